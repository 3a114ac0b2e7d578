package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"qbase/internal/migrate"
	"qbase/internal/schema"
)

func newPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "plan OLD NEW",
		Short:   "Print the ordered change plan between two schema files",
		Example: "qbase plan schema/v1.yaml schema/v2.yaml\nqbase plan dsl/v1 dsl/v2",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := planFiles(args[0], args[1])
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func planFiles(oldPath, newPath string) (migrate.Plan, error) {
	old, err := loadSchema(oldPath)
	if err != nil {
		return migrate.Plan{}, err
	}
	next, err := loadSchema(newPath)
	if err != nil {
		return migrate.Plan{}, err
	}
	return migrate.NewPlan(old, next)
}

var (
	paintDestructive = color.New(color.FgHiRed, color.Bold).SprintFunc()
	paintSafe        = color.New(color.FgGreen).SprintFunc()
	paintWarn        = color.New(color.FgHiYellow).SprintFunc()
	paintDim         = color.New(color.FgHiBlack).SprintFunc()
)

// printPlan: деструктивные изменения выделены красным и помечены "!".
func printPlan(w io.Writer, p migrate.Plan) {
	fmt.Fprintf(w, "plan %s -> %s: %d change(s)\n", p.From, p.To, len(p.Changes))
	if len(p.Changes) == 0 {
		fmt.Fprintln(w, paintDim("  nothing to do"))
	}
	for i, c := range p.Changes {
		if c.Destructive() {
			fmt.Fprintf(w, "%3d %s %s\n", i+1, paintDestructive("!"), paintDestructive(c.String()))
			continue
		}
		fmt.Fprintf(w, "%3d %s %s\n", i+1, paintSafe("+"), c.String())
	}
	if n := len(p.Destructive()); n > 0 {
		fmt.Fprintln(w, paintDestructive(fmt.Sprintf("%d destructive change(s): applying needs --allow-destructive", n)))
	}
	if p.Target == nil {
		return
	}
	for _, is := range schema.Lint(p.Target) {
		where := is.Entity
		if is.Field != "" {
			where += "." + is.Field
		}
		fmt.Fprintf(w, "%s %s: %s (%s)\n", paintWarn("warning"), where, is.Message, is.Code)
	}
}
