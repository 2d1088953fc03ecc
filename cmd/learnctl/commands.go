package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-learn/internal/access"
	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/notice"
	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/report"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.New(cmd.Context(), opts.Config.Database.URL,
				opts.Config.Database.MaxConns, opts.Config.Database.MinConns)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// catalogSummary counts what a catalog tree declares.
type catalogSummary struct {
	Plans    int `json:"plans"`
	Books    int `json:"books"`
	Chapters int `json:"chapters"`
	Courses  int `json:"courses"`
	Modules  int `json:"modules"`
	Quizzes  int `json:"quizzes"`
}

func summarize(l *catalog.Loader) catalogSummary {
	c := l.Catalog().Contents()
	return catalogSummary{
		Plans:    len(l.Plans().List()),
		Books:    len(c.Books),
		Chapters: len(c.Chapters),
		Courses:  len(c.Courses),
		Modules:  len(c.Modules),
		Quizzes:  len(c.Quizzes),
	}
}

func newCatalogCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and import YAML content",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate catalog YAML without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := catalog.NewLoader(args[0])
			if err != nil {
				return err
			}
			s := summarize(loader)
			return output(cmd, opts, s, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "catalog valid: %d plans, %d books, %d chapters, %d courses, %d modules, %d quizzes\n",
					s.Plans, s.Books, s.Chapters, s.Courses, s.Modules, s.Quizzes)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <dir>",
		Short: "Upsert catalog YAML into PostgreSQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := catalog.NewLoader(args[0])
			if err != nil {
				return err
			}

			db, err := database.New(cmd.Context(), opts.Config.Database.URL,
				opts.Config.Database.MaxConns, opts.Config.Database.MinConns)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}

			pc, err := catalog.NewPostgresCatalog(db.Pool)
			if err != nil {
				return err
			}
			if err := pc.Import(cmd.Context(), loader.Catalog().Contents(), loader.Plans().List()); err != nil {
				return err
			}

			s := summarize(loader)
			return output(cmd, opts, s, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d books and %d courses\n", s.Books, s.Courses)
			})
		},
	})

	return cmd
}

func newUserCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage platform users",
	}

	var u subscription.User
	var role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a user with no subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			u.Role = subscription.Role(role)
			created, err := a.Engine.CreateUser(cmd.Context(), u)
			if err != nil {
				return err
			}
			return output(cmd, opts, created, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s user %s\n", created.Role, created.ID)
			})
		},
	}
	create.Flags().StringVar(&u.ID, "id", "", "user id")
	create.Flags().StringVar(&u.Name, "name", "", "display name")
	create.Flags().StringVar(&role, "role", string(subscription.RoleStudent), "student or admin")
	_ = create.MarkFlagRequired("id")
	cmd.AddCommand(create)

	return cmd
}

func newPaymentCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Apply payment confirmations",
	}

	var c subscription.Confirmation
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Apply a confirmed payment; re-applying a transaction id is a no-op",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Engine.ApplyPaymentConfirmation(cmd.Context(), c)
			if err != nil {
				return err
			}
			return output(cmd, opts, res, func() {
				verb := "applied"
				if res.Replayed {
					verb = "already applied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s plan until %s\n",
					verb, c.TransactionID, res.Subscription.Plan, res.Transaction.ExpiryDate.Format("2006-01-02"))
			})
		},
	}
	apply.Flags().StringVar(&c.UserID, "user", "", "user id")
	apply.Flags().StringVar(&c.PlanID, "plan", "", "plan id")
	apply.Flags().StringVar(&c.TransactionID, "transaction", "", "payment gateway transaction id")
	apply.Flags().Float64Var(&c.Amount, "amount", 0, "amount paid")
	for _, name := range []string{"user", "plan", "transaction"} {
		_ = apply.MarkFlagRequired(name)
	}
	cmd.AddCommand(apply)

	return cmd
}

func newReportCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate quiz and revenue statistics",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "user <user-id>",
		Short: "Quiz statistics for one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Engine.UserStats(cmd.Context(), operator, args[0])
			if err != nil {
				return err
			}
			return output(cmd, opts, st, func() {
				w := cmd.OutOrStdout()
				for _, row := range []struct {
					label string
					s     report.QuizStats
				}{{"all", st.All}, {"book", st.Book}, {"course", st.Course}} {
					fmt.Fprintf(w, "%-6s attempts=%d passed=%d failed=%d avg=%.2f min=%d max=%d pct=%.2f\n",
						row.label, row.s.Attempts, row.s.Passed, row.s.Failed,
						row.s.AverageScore, row.s.MinScore, row.s.MaxScore, row.s.Percentage)
				}
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "platform",
		Short: "Users by plan and revenue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Engine.PlatformStats(cmd.Context(), operator)
			if err != nil {
				return err
			}
			return output(cmd, opts, st, func() {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "users: %d (active subscriptions: %d)\n", st.TotalUsers, st.ActiveSubscriptions)
				tiers := make([]plan.Tier, 0, len(st.UsersByPlan))
				for t := range st.UsersByPlan {
					tiers = append(tiers, t)
				}
				sort.Slice(tiers, func(i, j int) bool { return tiers[i].Rank() < tiers[j].Rank() })
				for _, t := range tiers {
					fmt.Fprintf(w, "  %-8s %d\n", t, st.UsersByPlan[t])
				}
				fmt.Fprintf(w, "revenue: %.2f over %d transactions\n", st.TotalRevenue, st.Transactions)
				for _, b := range st.Monthly {
					fmt.Fprintf(w, "  %s %.2f (%d)\n", b.Period, b.Revenue, b.Transactions)
				}
			})
		},
	})

	var outPath string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write platform statistics to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Engine.PlatformStats(cmd.Context(), operator)
			if err != nil {
				return err
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outPath, err)
			}
			if err := report.WritePlatformXLSX(f, st); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}
	export.Flags().StringVarP(&outPath, "output", "o", "platform-report.xlsx", "workbook path")
	cmd.AddCommand(export)

	return cmd
}

func newPlanCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect subscription plans",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List plans, cheapest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			plans, err := a.Engine.ListPlans(cmd.Context())
			if err != nil {
				return err
			}
			return output(cmd, opts, plans, func() {
				for _, p := range plans {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-8s %10.2f %3d months  %s\n",
						p.ID, p.Tier, p.Price, p.DurationMonths, p.Name)
				}
			})
		},
	})

	return cmd
}

func newTransactionCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transaction",
		Short: "Inspect the payment ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <transaction-id>",
		Short: "Show one ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.Engine.GetTransaction(cmd.Context(), operator, args[0])
			if err != nil {
				return err
			}
			return output(cmd, opts, t, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s user=%s plan=%s tier=%s amount=%.2f %s..%s\n",
					t.TransactionID, t.UserID, t.PlanID, t.Tier, t.Amount,
					t.StartDate.Format("2006-01-02"), t.ExpiryDate.Format("2006-01-02"))
			})
		},
	})

	return cmd
}

func newQuizCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Record quiz submissions",
	}

	var userID, quizID, answers string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Grade and record a user's only submission for a quiz",
		Long:  "Answers are a JSON array of {\"question_no\": n, \"text\": \"...\"} objects.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.Subscriptions.GetUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			p := access.Principal{ID: u.ID, Role: u.Role}
			res, err := a.Engine.SubmitQuizPayload(cmd.Context(), p, quizID, []byte(answers))
			if err != nil {
				return err
			}
			return output(cmd, opts, res, func() {
				verdict := "failed"
				if res.Passed {
					verdict = "passed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d/%d (%.2f%%)\n",
					verdict, res.Score, res.TotalQuestions, res.PercentageScore)
			})
		},
	}
	submit.Flags().StringVar(&userID, "user", "", "user id")
	submit.Flags().StringVar(&quizID, "quiz", "", "quiz id")
	submit.Flags().StringVar(&answers, "answers", "", "answers as a JSON array")
	for _, name := range []string{"user", "quiz", "answers"} {
		_ = submit.MarkFlagRequired(name)
	}
	cmd.AddCommand(submit)

	return cmd
}

func newNoticeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notice",
		Short: "Publish and list announcements",
	}

	var (
		n       notice.Notice
		author  string
		targets []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Publish a notice; without --target it reaches every user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range targets {
				tier, err := plan.ParseTier(t)
				if err != nil {
					return err
				}
				n.TargetPlans = append(n.TargetPlans, tier)
			}

			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			p := access.Principal{ID: author, Role: subscription.RoleAdmin}
			created, err := a.Engine.CreateNotice(cmd.Context(), p, n)
			if err != nil {
				return err
			}
			return output(cmd, opts, created, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "created notice %s\n", created.ID)
			})
		},
	}
	create.Flags().StringVar(&n.Title, "title", "", "notice title")
	create.Flags().StringVar(&n.Description, "description", "", "notice body")
	create.Flags().StringSliceVar(&targets, "target", nil, "target plan tier (repeatable)")
	create.Flags().StringVar(&author, "as", "", "id of the admin user publishing the notice")
	for _, name := range []string{"title", "description", "as"} {
		_ = create.MarkFlagRequired(name)
	}
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every notice, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			notices, err := a.Engine.ListNotices(cmd.Context(), operator)
			if err != nil {
				return err
			}
			return output(cmd, opts, notices, func() {
				for _, n := range notices {
					audience := "everyone"
					if len(n.TargetPlans) > 0 {
						tiers := make([]string, len(n.TargetPlans))
						for i, t := range n.TargetPlans {
							tiers[i] = string(t)
						}
						audience = strings.Join(tiers, ",")
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", n.CreatedAt.Format("2006-01-02"), audience, n.Title)
				}
			})
		},
	})

	return cmd
}
