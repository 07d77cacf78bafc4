package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"designer-dispatch/internal/dispatch"
	"designer-dispatch/internal/logging"
	"designer-dispatch/internal/models"
	"designer-dispatch/internal/notify"
)

// withEngine opens the configured store and runs fn against a fresh engine.
// Notifications are not published from one-shot commands.
func withEngine(cmd *command, fn func(ctx context.Context, engine *dispatch.Engine) error) error {
	ctx := context.Background()
	logger := logging.New(os.Stderr, cmd.cfg.InstanceID, cmd.cfg.LogLevel)
	b, err := openBackend(ctx, cmd.cfg)
	if err != nil {
		return err
	}
	defer b.close()
	engine, err := newEngine(cmd.cfg, b, notify.Nop{}, logger)
	if err != nil {
		return err
	}
	return fn(ctx, engine)
}

func runSubmit(args []string) error {
	cmd, err := newCommand("submit", args)
	if err != nil {
		return err
	}
	cmd.withCaller("SYSTEM")
	orderID := cmd.fs.String("order", "", "Order the task belongs to")
	companyID := cmd.fs.String("company", "", "Company paying for the task")
	priority := cmd.fs.String("priority", string(models.PriorityNormal), "NORMAL|EXPRESS|URGENT")
	funding := cmd.fs.String("funding", string(models.FundingCredits), "CREDITS|PAYMENT")
	if err := cmd.parse(); err != nil {
		return err
	}
	if err := required("order", *orderID, "company", *companyID); err != nil {
		return err
	}
	p, err := parsePriority(*priority)
	if err != nil {
		return err
	}
	f, err := parseFunding(*funding)
	if err != nil {
		return err
	}
	caller, err := cmd.callerIdentity()
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, engine *dispatch.Engine) error {
		task, err := engine.SubmitTask(ctx, caller, dispatch.NewTask{OrderID: *orderID, CompanyID: *companyID, Priority: p, Funding: f})
		if task != nil {
			printTask(os.Stdout, task)
		}
		return err
	})
}

func runConfirmPayment(args []string) error {
	cmd, err := newCommand("pay", args)
	if err != nil {
		return err
	}
	cmd.withCaller("SYSTEM")
	taskID := cmd.fs.String("task", "", "Task whose payment cleared")
	if err := cmd.parse(); err != nil {
		return err
	}
	if err := required("task", *taskID); err != nil {
		return err
	}
	caller, err := cmd.callerIdentity()
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, engine *dispatch.Engine) error {
		task, err := engine.ConfirmPayment(ctx, caller, *taskID)
		if err != nil {
			return err
		}
		printTask(os.Stdout, task)
		return nil
	})
}

func runAssign(args []string) error {
	cmd, err := newCommand("assign", args)
	if err != nil {
		return err
	}
	cmd.withCaller("ADMIN")
	taskID := cmd.fs.String("task", "", "Task to offer")
	if err := cmd.parse(); err != nil {
		return err
	}
	if err := required("task", *taskID); err != nil {
		return err
	}
	caller, err := cmd.callerIdentity()
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, engine *dispatch.Engine) error {
		a, err := engine.Assign(ctx, caller, *taskID)
		if err != nil {
			return err
		}
		fmt.Printf("Offered task %s to designer %s (assignment %s, confirm by %s)\n",
			a.TaskID, a.DesignerID, a.ID, engine.Window().Deadline(a.AssignedAt).Format(time.RFC3339))
		return nil
	})
}

func runConfirm(args []string) error {
	cmd, err := newCommand("confirm", args)
	if err != nil {
		return err
	}
	cmd.withCaller("")
	assignmentID := cmd.fs.String("assignment", "", "Offer to accept")
	if err := cmd.parse(); err != nil {
		return err
	}
	if err := required("assignment", *assignmentID, "as", *cmd.caller); err != nil {
		return err
	}
	caller, err := cmd.callerIdentity()
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, engine *dispatch.Engine) error {
		a, task, err := engine.Confirm(ctx, caller, *assignmentID)
		if err != nil {
			return err
		}
		fmt.Printf("Designer %s confirmed assignment %s; task %s is %s\n", a.DesignerID, a.ID, task.ID, task.Status)
		return nil
	})
}

func runReject(args []string) error {
	cmd, err := newCommand("reject", args)
	if err != nil {
		return err
	}
	cmd.withCaller("")
	assignmentID := cmd.fs.String("assignment", "", "Offer to decline or force-release")
	if err := cmd.parse(); err != nil {
		return err
	}
	if err := required("assignment", *assignmentID, "as", *cmd.caller); err != nil {
		return err
	}
	caller, err := cmd.callerIdentity()
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, engine *dispatch.Engine) error {
		rel, err := engine.Reject(ctx, caller, *assignmentID)
		if err != nil {
			return err
		}
		fmt.Printf("Released assignment %s (designer %s)\n", rel.Released.ID, rel.Released.DesignerID)
		if rel.Next != nil {
			fmt.Printf("Re-offered task %s to designer %s (assignment %s)\n", rel.Next.TaskID, rel.Next.DesignerID, rel.Next.ID)
		} else {
			fmt.Printf("Task %s is waiting for an available designer\n", rel.Released.TaskID)
		}
		return nil
	})
}

func runShow(args []string) error {
	cmd, err := newCommand("show", args)
	if err != nil {
		return err
	}
	cmd.withCaller("ADMIN")
	taskID := cmd.fs.String("task", "", "Task to show with its offer history")
	assignmentID := cmd.fs.String("assignment", "", "Single offer to show")
	if err := cmd.parse(); err != nil {
		return err
	}
	if (*taskID == "") == (*assignmentID == "") {
		return usagef("provide exactly one of --task or --assignment")
	}
	caller, err := cmd.callerIdentity()
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, engine *dispatch.Engine) error {
		if *assignmentID != "" {
			a, err := engine.GetAssignment(ctx, caller, *assignmentID)
			if err != nil {
				return err
			}
			printAssignments(os.Stdout, engine.Window(), []*models.TaskAssignment{a})
			return nil
		}
		task, err := engine.Task(ctx, *taskID)
		if err != nil {
			return err
		}
		history, err := engine.History(ctx, *taskID)
		if err != nil {
			return err
		}
		printTask(os.Stdout, task)
		printAssignments(os.Stdout, engine.Window(), history)
		return nil
	})
}

type workStep func(*dispatch.Engine, context.Context, models.Caller, string) (*models.Task, error)

// workSteps maps `dispatch work <step>` to the engine transition it drives.
var workSteps = map[string]workStep{
	"start":     (*dispatch.Engine).StartWork,
	"submit-qa": (*dispatch.Engine).SubmitForQA,
	"approve":   (*dispatch.Engine).ApproveQA,
	"rework":    (*dispatch.Engine).RequestRework,
	"complain":  (*dispatch.Engine).RaiseComplaint,
	"cancel":    (*dispatch.Engine).Cancel,
}

func runWork(args []string) error {
	if len(args) == 0 {
		return usagef("usage: dispatch work <start|submit-qa|approve|rework|complain|cancel> --task <id> --as ROLE[:ID]")
	}
	step, ok := workSteps[args[0]]
	if !ok {
		return usagef("unknown work step %q", args[0])
	}
	cmd, err := newCommand("work "+args[0], args[1:])
	if err != nil {
		return err
	}
	cmd.withCaller("ADMIN")
	taskID := cmd.fs.String("task", "", "Task to move")
	if err := cmd.parse(); err != nil {
		return err
	}
	if err := required("task", *taskID); err != nil {
		return err
	}
	caller, err := cmd.callerIdentity()
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, engine *dispatch.Engine) error {
		task, err := step(engine, ctx, caller, *taskID)
		if err != nil {
			return err
		}
		printTask(os.Stdout, task)
		return nil
	})
}

func runCredits(args []string) error {
	if len(args) == 0 {
		return usagef("usage: dispatch credits <balance|reserve> --company <id> [--amount N]")
	}
	cmd, err := newCommand("credits "+args[0], args[1:])
	if err != nil {
		return err
	}
	cmd.withCaller("SYSTEM")
	companyID := cmd.fs.String("company", "", "Credit owner")
	amount := cmd.fs.Int("amount", 0, "Credits to reserve")
	if err := cmd.parse(); err != nil {
		return err
	}
	if err := required("company", *companyID); err != nil {
		return err
	}
	caller, err := cmd.callerIdentity()
	if err != nil {
		return err
	}

	switch args[0] {
	case "balance":
		return withEngine(cmd, func(ctx context.Context, engine *dispatch.Engine) error {
			bal, err := engine.Balance(ctx, caller, *companyID)
			if err != nil {
				return err
			}
			printBalance(os.Stdout, bal)
			return nil
		})
	case "reserve":
		return withEngine(cmd, func(ctx context.Context, engine *dispatch.Engine) error {
			debits, err := engine.Reserve(ctx, caller, *companyID, *amount)
			if err != nil {
				return err
			}
			for _, d := range debits {
				source := string(d.Source)
				if d.PackagePurchaseID != nil {
					source += " " + *d.PackagePurchaseID
				}
				fmt.Printf("Debited %d credit(s) from %s\n", d.Amount, source)
			}
			return nil
		})
	default:
		return usagef("unknown credits command %q", args[0])
	}
}

func runQuote(args []string) error {
	cmd, err := newCommand("quote", args)
	if err != nil {
		return err
	}
	priority := cmd.fs.String("priority", string(models.PriorityNormal), "NORMAL|EXPRESS|URGENT")
	if err := cmd.fs.Parse(cmd.args); err != nil {
		return err
	}
	p, err := parsePriority(*priority)
	if err != nil {
		return err
	}
	pricing := pricingFromConfig(cmd.cfg.Pricing)
	if err := pricing.Validate(); err != nil {
		return err
	}
	minor, err := pricing.Quote(p)
	if err != nil {
		return err
	}
	credits, err := pricing.Credits(p)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s (%d minor units), %d credit(s)\n", p, formatMinor(minor), minor, credits)
	return nil
}

func formatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func printTask(w io.Writer, t *models.Task) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "Task\t%s\n", t.ID)
	fmt.Fprintf(tw, "Order\t%s\n", t.OrderID)
	fmt.Fprintf(tw, "Company\t%s\n", t.CompanyID)
	fmt.Fprintf(tw, "Status\t%s\n", t.Status)
	fmt.Fprintf(tw, "Priority\t%s\n", t.Priority)
	if t.AssignedToID != nil {
		fmt.Fprintf(tw, "Assigned to\t%s\n", *t.AssignedToID)
	}
	if t.CurrentAssignmentID != nil {
		fmt.Fprintf(tw, "Current offer\t%s\n", *t.CurrentAssignmentID)
	}
}

func printAssignments(w io.Writer, window dispatch.ConfirmationWindow, list []*models.TaskAssignment) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No offers yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "Assignment\tDesigner\tStatus\tOffered\tDeadline")
	for _, a := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.DesignerID, a.Status,
			a.AssignedAt.Format(time.RFC3339), window.Deadline(a.AssignedAt).Format(time.RFC3339))
	}
}

func printBalance(w io.Writer, bal *models.CreditBalance) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "Company\t%s\n", bal.CompanyID)
	fmt.Fprintf(tw, "Free credits\t%d\n", bal.FreeCredits)
	for _, p := range bal.Packages {
		expires := "never"
		if p.ExpiresAt != nil {
			expires = p.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "Package %s\t%d of %d (expires %s)\n", p.ID, p.CreditsLeft, p.CreditsTotal, expires)
	}
	fmt.Fprintf(tw, "Total\t%d\n", bal.Total)
}
