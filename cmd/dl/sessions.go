package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dossierline/internal/app"
	"dossierline/internal/catalog"
	"dossierline/internal/domain"
	"dossierline/internal/dossier"
	"dossierline/internal/engine"
)

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [program]",
		Short: "Show the documents each program requires",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			programs := catalog.ProgramTypes()
			if len(args) == 1 {
				pt, err := catalog.ParseProgramType(args[0])
				if err != nil {
					return err
				}
				programs = []catalog.ProgramType{pt}
			}
			if viper.GetBool("json") {
				out := map[catalog.ProgramType][]catalog.DocumentDefinition{}
				for _, pt := range programs {
					out[pt] = catalog.RequiredDocuments(pt)
				}
				return printJSON(out)
			}
			tw := newTable(table.Row{"Program", "Key", "Label", "Content"})
			for _, pt := range programs {
				for _, d := range catalog.RequiredDocuments(pt) {
					tw.AppendRow(table.Row{pt, d.Key, d.Label, d.ContentClass})
				}
				tw.AppendSeparator()
			}
			fmt.Println(tw.Render())
			return nil
		},
	}
}

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{Use: "session", Short: "Manage training sessions"}
	sess.AddCommand(sessionCreateCmd())
	sess.AddCommand(sessionListCmd())
	sess.AddCommand(sessionShowCmd())
	sess.AddCommand(sessionUpdateCmd())
	sess.AddCommand(sessionArchiveCmd())
	sess.AddCommand(sessionDeleteCmd())
	return sess
}

func sessionCreateCmd() *cobra.Command {
	var in engine.SessionInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.CreateSession(ctx, in, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Created session %s (%s)\n", s.ID, s.ProgramType)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "session name")
	cmd.Flags().StringVar(&in.ProgramType, "program", "", "program type ("+programList()+")")
	cmd.Flags().StringVar(&in.StartDate, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&in.EndDate, "end", "", "end date YYYY-MM-DD")
	cmd.Flags().StringVar(&in.ExamDate, "exam", "", "exam date YYYY-MM-DD")
	return cmd
}

func sessionListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions with their conformity counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListSessions(ctx, all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Program", "Start", "End", "Trainees", "Conform", "Status"})
				for _, s := range items {
					status := "open"
					if s.Archived {
						status = "archived"
					}
					tw.AppendRow(table.Row{s.ID, s.Name, s.ProgramType, s.StartDate, s.EndDate, s.Report.Total,
						fmt.Sprintf("%d/%d", s.Report.ConformCount, s.Report.Total), status})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include archived sessions")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session, its trainees and its conformity report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				report := dossier.EvaluateSession(s)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"session": s, "report": report})
				}
				fmt.Printf("Session %s: %s [%s]\n", s.ID, s.Name, s.ProgramType)
				fmt.Printf("Dates: %s -> %s, exam %s\n", dash(s.StartDate), dash(s.EndDate), dash(s.ExamDate))
				tw := newTable(table.Row{"ID", "Name", "Dossier", "Documents", "Convention", "Funding", "Test FR", "Conform"})
				for _, t := range s.Trainees {
					tw.AppendRow(table.Row{t.ID, t.FirstName + " " + t.LastName, t.DossierStatus, slotSummary(t),
						t.ConventionStatus, t.FundingStatus, t.TestFrStatus, yesNo(dossier.IsConform(t, s.ProgramType))})
				}
				fmt.Println(tw.Render())
				verdict := "not conform"
				if report.SessionConform {
					verdict = "conform"
				}
				fmt.Printf("%d/%d trainees conform; session %s\n", report.ConformCount, report.Total, verdict)
				return nil
			})
		},
	}
}

func sessionUpdateCmd() *cobra.Command {
	var name, program, start, end, exam string
	cmd := &cobra.Command{
		Use:   "update <session-id>",
		Short: "Edit a session; changing the program rebuilds document slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := engine.SessionPatch{
				Name:        changedString(cmd, "name", name),
				ProgramType: changedString(cmd, "program", program),
				StartDate:   changedString(cmd, "start", start),
				EndDate:     changedString(cmd, "end", end),
				ExamDate:    changedString(cmd, "exam", exam),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.UpdateSession(ctx, args[0], p, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Updated session %s\n", s.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name")
	cmd.Flags().StringVar(&program, "program", "", "program type ("+programList()+")")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD")
	cmd.Flags().StringVar(&exam, "exam", "", "exam date YYYY-MM-DD")
	return cmd
}

func sessionArchiveCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "archive <session-id>",
		Short: "Archive or restore a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				s, err := a.Engine.ArchiveSession(ctx, args[0], !undo, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Session %s archived=%t\n", s.ID, s.Archived)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "restore an archived session")
	return cmd
}

func sessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session with its trainees and uploaded files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.DeleteSession(ctx, args[0], actorID())
			})
		},
	}
}

func traineeCmd() *cobra.Command {
	tr := &cobra.Command{Use: "trainee", Short: "Manage trainees"}
	tr.AddCommand(traineeAddCmd())
	tr.AddCommand(traineeShowCmd())
	tr.AddCommand(traineeUpdateCmd())
	tr.AddCommand(traineeDeleteCmd())
	return tr
}

func traineeAddCmd() *cobra.Command {
	var in engine.TraineeInput
	cmd := &cobra.Command{
		Use:   "add <session-id>",
		Short: "Enroll a trainee and print their portal link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.AddTrainee(ctx, args[0], in, actorID())
				if err != nil {
					return err
				}
				link := a.Config.PortalLink(t.Token)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"trainee": t, "portal_link": link})
				}
				fmt.Printf("Added trainee %s\n", t.ID)
				if link != "" {
					fmt.Printf("Portal: %s\n", link)
				} else {
					fmt.Printf("Portal token: %s (set portal.base_url for full links)\n", t.Token)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "phone")
	return cmd
}

func traineeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id> <trainee-id>",
		Short: "Show a trainee's slots and profile feedback",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.GetTrainee(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				issues := dossier.ValidateProfile(t.Profile)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"trainee": t, "profile_issues": issues})
				}
				fmt.Printf("%s %s (%s) dossier %s\n", t.FirstName, t.LastName, t.ID, t.DossierStatus)
				fmt.Printf("  clearance %s, accommodation %s\n", t.ClearanceStatus, t.AccommodationStatus)
				tw := newTable(table.Row{"Document", "Status", "Files", "Comment"})
				for _, slot := range t.Documents {
					tw.AppendRow(table.Row{slot.Key, slot.Status, len(slot.Files), slot.Comment})
				}
				fmt.Println(tw.Render())
				if t.LicenseWaiver {
					fmt.Println("Driving licence waived")
				}
				for _, fe := range issues {
					fmt.Printf("  profile %s\n", fe.Error())
				}
				for kind, ref := range t.Deliverables {
					fmt.Printf("  deliverable %s: %s\n", kind, ref)
				}
				return nil
			})
		},
	}
}

func traineeUpdateCmd() *cobra.Command {
	var lastName, firstName, email, phone, convention, testFr, funding, qualification, clearance, accommodation, comment string
	var waiver bool
	cmd := &cobra.Command{
		Use:   "update <session-id> <trainee-id>",
		Short: "Edit a trainee's identity or administrative statuses",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := engine.TraineePatch{
				LastName:            changedString(cmd, "last-name", lastName),
				FirstName:           changedString(cmd, "first-name", firstName),
				Email:               changedString(cmd, "email", email),
				Phone:               changedString(cmd, "phone", phone),
				ConventionStatus:    changedString(cmd, "convention", convention),
				TestFrStatus:        changedString(cmd, "test-fr", testFr),
				FundingStatus:       changedString(cmd, "funding", funding),
				QualificationStatus: changedString(cmd, "qualification", qualification),
				ClearanceStatus:     changedString(cmd, "clearance", clearance),
				AccommodationStatus: changedString(cmd, "accommodation", accommodation),
				LicenseWaiver:       changedBool(cmd, "license-waiver", waiver),
				Comment:             changedString(cmd, "comment", comment),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.UpdateTrainee(ctx, args[0], args[1], p, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Updated trainee %s; dossier %s\n", t.ID, t.DossierStatus)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone")
	cmd.Flags().StringVar(&convention, "convention", "", "not_started|signing|signed")
	cmd.Flags().StringVar(&testFr, "test-fr", "", "not_started|in_progress|validated|reminded")
	cmd.Flags().StringVar(&funding, "funding", "", "not_started|pending_validation|validated")
	cmd.Flags().StringVar(&qualification, "qualification", "", "not_started|in_progress|validated|not_applicable")
	cmd.Flags().StringVar(&clearance, "clearance", "", "unknown|pending|valid|refused|expired")
	cmd.Flags().StringVar(&accommodation, "accommodation", "", "unknown|pending|booked|not_needed|not_applicable")
	cmd.Flags().BoolVar(&waiver, "license-waiver", false, "waive the driving licence")
	cmd.Flags().StringVar(&comment, "comment", "", "free comment")
	return cmd
}

func traineeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id> <trainee-id>",
		Short: "Remove a trainee and their uploaded files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				return a.Engine.DeleteTrainee(ctx, args[0], args[1], actorID())
			})
		},
	}
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{Use: "doc", Short: "Submit, review and clear required documents"}

	submit := &cobra.Command{
		Use:   "submit <session-id> <trainee-id> <key> <file>",
		Short: "Attach a file to a document slot",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[3])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				res, err := a.Engine.SubmitDocument(ctx, args[0], args[1], args[2],
					engine.Upload{Filename: filepath.Base(args[3]), Data: data}, actorID())
				if err != nil {
					return err
				}
				return printSlot(res)
			})
		},
	}

	var verdict, comment string
	review := &cobra.Command{
		Use:   "review <session-id> <trainee-id> <key>",
		Short: "Mark a submitted document compliant or non_compliant",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				res, err := a.Engine.ReviewDocument(ctx, args[0], args[1], args[2], verdict, comment, actorID())
				if err != nil {
					return err
				}
				return printSlot(res)
			})
		},
	}
	review.Flags().StringVar(&verdict, "verdict", "", "compliant|non_compliant")
	review.Flags().StringVar(&comment, "comment", "", "reviewer comment")

	clear := &cobra.Command{
		Use:   "clear <session-id> <trainee-id> <key>",
		Short: "Reset a slot and delete its files",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				res, err := a.Engine.ClearDocument(ctx, args[0], args[1], args[2], actorID())
				if err != nil {
					return err
				}
				return printSlot(res)
			})
		},
	}

	doc.AddCommand(submit, review, clear)
	return doc
}

func profileCmd() *cobra.Command {
	prof := &cobra.Command{Use: "profile", Short: "Edit trainee profiles"}
	prof.AddCommand(&cobra.Command{
		Use:   "set <session-id> <trainee-id> field=value...",
		Short: "Save profile fields and print what is still invalid",
		Long:  "Fields: " + strings.Join(dossier.ProfileFields(), ", "),
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := map[string]string{}
			for _, kv := range args[2:] {
				field, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("expected field=value, got %q", kv)
				}
				values[field] = value
			}
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				res, err := a.Engine.UpdateProfile(ctx, args[0], args[1], values, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if len(res.Issues) == 0 {
					fmt.Println("Profile valid")
				}
				for _, fe := range res.Issues {
					fmt.Printf("  %s\n", fe.Error())
				}
				fmt.Printf("Dossier %s\n", res.DossierStatus)
				return nil
			})
		},
	})
	return prof
}

func deliverableCmd() *cobra.Command {
	del := &cobra.Command{Use: "deliverable", Short: "Attach end-of-training documents"}
	del.AddCommand(&cobra.Command{
		Use:   "attach <session-id> <trainee-id> <kind> <file>",
		Short: "Attach a deliverable (" + strings.Join(domain.DeliverableKinds(), ", ") + ")",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[3])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				t, err := a.Engine.SetDeliverable(ctx, args[0], args[1], args[2], filepath.Base(args[3]), data, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t.Deliverables)
				}
				fmt.Printf("Attached %s to %s\n", args[2], t.ID)
				return nil
			})
		},
	})
	return del
}

func printSlot(res engine.SlotResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("%s: %s (%d files); dossier %s\n", res.Slot.Key, res.Slot.Status, len(res.Slot.Files), res.DossierStatus)
	return nil
}

func slotSummary(t domain.Trainee) string {
	ok := 0
	for _, slot := range t.Documents {
		if slot.Status == domain.DocumentCompliant {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d", ok, len(t.Documents))
}

func programList() string {
	names := make([]string, 0, len(catalog.ProgramTypes()))
	for _, pt := range catalog.ProgramTypes() {
		names = append(names, string(pt))
	}
	return strings.Join(names, ", ")
}

func dash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
