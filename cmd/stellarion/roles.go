package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/stellarion/api/internal/rbac"
)

func newRolesCmd() *cobra.Command {
	var minimum string

	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Print the role table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			include := map[rbac.Role]bool{}
			if minimum != "" {
				role, err := rbac.ParseRole(minimum)
				if err != nil {
					return err
				}
				for _, r := range rbac.RolesAtLeast(role) {
					include[r] = true
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LEVEL\tROLE\tPERMISSIONS\tDESCRIPTION")
			for _, d := range rbac.Descriptors() {
				if minimum != "" && !include[d.Role] {
					continue
				}
				description, err := rbac.Describe(d.Role)
				if err != nil {
					return err
				}
				perms := make([]string, len(d.Permissions))
				for i, p := range d.Permissions {
					perms[i] = string(p)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.Level, d.Role, strings.Join(perms, ","), description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&minimum, "min", "", "only list roles at or above this role")
	return cmd
}
