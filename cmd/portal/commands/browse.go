package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/benvon/hospital-portal/internal/api"
	"github.com/benvon/hospital-portal/internal/models"
	"github.com/spf13/cobra"
)

func newOpenCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open PATH",
		Short: "Resolve a page the way the web client would",
		Long:  "Navigate to PATH through the route guard and print where you end up.",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			loc, err := a.navigator.Navigate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printLocation(a, loc)
			return nil
		}),
	}
}

func newHospitalsCmd(o *rootOptions) *cobra.Command {
	var (
		keyword string
		page    int
		size    int
		admin   bool
	)
	cmd := &cobra.Command{
		Use:   "hospitals",
		Short: "List hospitals",
		RunE: o.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			q := api.HospitalQuery{Keyword: keyword, PageNum: page, PageSize: size}

			var (
				result *models.PageResult[models.Hospital]
				err    error
			)
			if admin {
				loc, navErr := a.navigator.Navigate(ctx, "/admin/hospitals")
				if navErr != nil {
					return navErr
				}
				if loc.Route.Name != "AdminHospitalList" {
					printLocation(a, loc)
					return fmt.Errorf("the management view requires an administrator session")
				}
				result, err = a.hospitals.AdminList(ctx, q)
			} else {
				result, err = a.hospitals.List(ctx, q)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLEVEL\tCITY")
			for _, h := range result.List {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", h.ID, h.Name, h.Level, h.City)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Page %d of %d, %d total\n", result.PageNum, result.Pages, result.Total)
			return nil
		}),
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "Filter by name")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&size, "size", 10, "Page size")
	cmd.Flags().BoolVar(&admin, "admin", false, "Use the administrator management view")
	return cmd
}
