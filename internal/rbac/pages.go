package rbac

// Dashboard page paths.
const (
	PageOverview   = "/dashboard/overview"
	PageProfile    = "/dashboard/profile"
	PageSettings   = "/dashboard/settings"
	PageBlogs      = "/dashboard/blogs"
	PageMentor     = "/dashboard/mentor"
	PageEvents     = "/dashboard/events"
	PageChat       = "/dashboard/chat"
	PageSessions   = "/dashboard/sessions"
	PageMedia      = "/dashboard/media"
	PageAdmin      = "/dashboard/admin"
	PageModeration = "/dashboard/moderation"
)

var everyRole = []Role{RoleLearner, RoleEnthusiast, RoleInfluencer, RoleGuide, RoleMentor, RoleModerator, RoleAdmin}

// PageRule pairs a dashboard path with the roles allowed to open it.
type PageRule struct {
	Path  string
	Roles []Role
}

// pageAccess is ordered so it can seed the gate's route table directly.
var pageAccess = []PageRule{
	{Path: PageOverview, Roles: everyRole},
	{Path: PageProfile, Roles: everyRole},
	{Path: PageSettings, Roles: everyRole},
	{Path: PageBlogs, Roles: []Role{RoleEnthusiast, RoleInfluencer, RoleGuide, RoleMentor, RoleModerator, RoleAdmin}},
	{Path: PageMentor, Roles: []Role{RoleMentor, RoleModerator, RoleAdmin}},
	{Path: PageEvents, Roles: []Role{RoleGuide, RoleMentor, RoleModerator, RoleAdmin}},
	{Path: PageChat, Roles: everyRole},
	{Path: PageSessions, Roles: []Role{RoleMentor, RoleModerator, RoleAdmin}},
	{Path: PageMedia, Roles: []Role{RoleGuide}},
	{Path: PageAdmin, Roles: []Role{RoleAdmin}},
	{Path: PageModeration, Roles: []Role{RoleModerator, RoleAdmin}},
}

// PageRules returns a copy of the dashboard allow-list.
func PageRules() []PageRule {
	out := make([]PageRule, len(pageAccess))
	for i, rule := range pageAccess {
		roles := make([]Role, len(rule.Roles))
		copy(roles, rule.Roles)
		out[i] = PageRule{Path: rule.Path, Roles: roles}
	}
	return out
}

// HasPageAccess reports whether role may open the exact dashboard path.
// Paths that are not in the allow-list are closed.
func HasPageAccess(role Role, path string) bool {
	mustLookup(role)
	for _, rule := range pageAccess {
		if rule.Path == path {
			return HasAnyRole(role, rule.Roles)
		}
	}
	return false
}

// MenuItem is one sidebar entry.
type MenuItem struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
	Href  string `json:"href"`
}

var (
	menuOverview   = MenuItem{Label: "Overview", Icon: "HomeIcon", Href: PageOverview}
	menuProfile    = MenuItem{Label: "Profile", Icon: "UserCircleIcon", Href: PageProfile}
	menuBlogs      = MenuItem{Label: "Blogs", Icon: "BookOpenIcon", Href: PageBlogs}
	menuMentor     = MenuItem{Label: "Mentor", Icon: "AcademicCapIcon", Href: PageMentor}
	menuEvents     = MenuItem{Label: "Events", Icon: "CalendarDaysIcon", Href: PageEvents}
	menuMedia      = MenuItem{Label: "Media Gallery", Icon: "PhotoIcon", Href: PageMedia}
	menuChat       = MenuItem{Label: "Chat", Icon: "ChatBubbleLeftRightIcon", Href: PageChat}
	menuSessions   = MenuItem{Label: "Sessions", Icon: "UsersIcon", Href: PageSessions}
	menuModeration = MenuItem{Label: "Moderation", Icon: "ShieldCheckIcon", Href: PageModeration}
	menuAdmin      = MenuItem{Label: "Admin", Icon: "KeyIcon", Href: PageAdmin}
	menuSettings   = MenuItem{Label: "Settings", Icon: "Cog6ToothIcon", Href: PageSettings}
)

var menus = map[Role][]MenuItem{
	RoleLearner:    {menuOverview, menuProfile, menuChat, menuSettings},
	RoleEnthusiast: {menuOverview, menuProfile, menuBlogs, menuChat, menuSettings},
	RoleInfluencer: {menuOverview, menuProfile, menuBlogs, menuChat, menuSettings},
	RoleGuide:      {menuOverview, menuProfile, menuBlogs, menuEvents, menuMedia, menuChat, menuSettings},
	RoleMentor:     {menuOverview, menuProfile, menuBlogs, menuMentor, menuEvents, menuChat, menuSessions, menuSettings},
	RoleModerator: {menuOverview, menuProfile, menuBlogs, menuMentor, menuEvents, menuChat, menuSessions,
		menuModeration, menuSettings},
	RoleAdmin: {menuOverview, menuProfile, menuBlogs, menuMentor, menuEvents, menuChat, menuSessions,
		menuModeration, menuAdmin, menuSettings},
}

// MenuItemsForRole returns the sidebar entries for role.
func MenuItemsForRole(role Role) ([]MenuItem, error) {
	items, ok := menus[role]
	if !ok {
		return nil, &UnknownRoleError{Value: string(role)}
	}
	out := make([]MenuItem, len(items))
	copy(out, items)
	return out, nil
}

var descriptions = map[Role]string{
	RoleLearner:    "I want to learn and explore",
	RoleEnthusiast: "I am passionate about astronomy",
	RoleInfluencer: "I want to inspire and influence others",
	RoleGuide:      "I want to provide guidance and support",
	RoleMentor:     "I want to teach and guide others",
	RoleModerator:  "I want to help moderate the community",
	RoleAdmin:      "Administrative access",
}

// Describe returns the human-readable summary shown in the sign-up role picker.
func Describe(role Role) (string, error) {
	d, ok := descriptions[role]
	if !ok {
		return "", &UnknownRoleError{Value: string(role)}
	}
	return d, nil
}
