// Package dispatch routes paid tasks to designers. Offers are time-boxed;
// expiry is derived from timestamps on every path that touches an offer, so
// no timer state needs to survive a restart.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/notify"
	"designer-dispatch/internal/store"
)

type Options struct {
	Clock               Clock
	ConfirmationTimeout time.Duration
	ConcurrencyCap      int // 0 is unbounded
	Pricing             Pricing
	Notifier            notify.Notifier
	Logger              *slog.Logger
	NewID               func() string
}

type Engine struct {
	repo     store.Repository
	clock    Clock
	window   ConfirmationWindow
	pricing  Pricing
	notifier notify.Notifier
	logger   *slog.Logger

	scheduler *Scheduler
	ledger    *CreditLedger
	requeue   *RequeueTrigger
}

// NewTask is a client's request for one unit of work.
type NewTask struct {
	OrderID   string
	CompanyID string
	Priority  models.Priority
	Funding   models.Funding
}

// Release is the outcome of a rejection or expiry.
type Release struct {
	Released *models.TaskAssignment
	Next     *models.TaskAssignment // nil when nobody else could take the task
}

type SweepResult struct {
	Expired  int
	Offered  int
	Unplaced int
}

func New(repo store.Repository, opts Options) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidArgument)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.ConfirmationTimeout == 0 {
		opts.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if opts.ConfirmationTimeout < 0 {
		return nil, fmt.Errorf("%w: confirmation timeout must be > 0", ErrInvalidArgument)
	}
	if opts.ConcurrencyCap < 0 {
		return nil, fmt.Errorf("%w: concurrency cap must be >= 0", ErrInvalidArgument)
	}
	if opts.Pricing.BasePriceMinor == 0 {
		opts.Pricing = DefaultPricing()
	}
	if err := opts.Pricing.Validate(); err != nil {
		return nil, err
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	e := &Engine{
		repo:     repo,
		clock:    opts.Clock,
		window:   ConfirmationWindow{Timeout: opts.ConfirmationTimeout},
		pricing:  opts.Pricing,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
	e.scheduler = &Scheduler{
		repo:   repo,
		clock:  opts.Clock,
		window: e.window,
		cap:    opts.ConcurrencyCap,
		newID:  opts.NewID,
	}
	e.ledger = &CreditLedger{repo: repo, clock: opts.Clock}
	e.requeue = &RequeueTrigger{repo: repo, assign: e.offer}
	return e, nil
}

func (e *Engine) Window() ConfirmationWindow { return e.window }

func requireRole(caller models.Caller, action string, roles ...models.Role) error {
	if slices.Contains(roles, caller.Role) {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s", ErrForbidden, caller.Role, action)
}

// SubmitTask records a new task awaiting funding. Credit-funded tasks are
// paid for immediately; on InsufficientCredit the task is returned together
// with the error and stays unschedulable.
func (e *Engine) SubmitTask(ctx context.Context, caller models.Caller, in NewTask) (*models.Task, error) {
	if err := requireRole(caller, "submit tasks", models.RoleClient, models.RoleAdmin, models.RoleSystem); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.OrderID) == "" || strings.TrimSpace(in.CompanyID) == "" {
		return nil, fmt.Errorf("%w: order and company are required", ErrInvalidArgument)
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, in.Priority)
	}
	if in.Funding != models.FundingCredits && in.Funding != models.FundingPayment {
		return nil, fmt.Errorf("%w: unknown funding %q", ErrInvalidArgument, in.Funding)
	}

	now := e.clock.Now()
	task := &models.Task{
		ID:        e.scheduler.newID(),
		OrderID:   in.OrderID,
		CompanyID: in.CompanyID,
		Status:    models.TaskAwaitingPayment,
		Priority:  in.Priority,
		Funding:   in.Funding,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repo.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	e.logger.Info("Task submitted", "task_id", task.ID, "order_id", task.OrderID, "priority", task.Priority, "funding", task.Funding)

	if in.Funding != models.FundingCredits {
		return task, nil
	}
	credits, err := e.pricing.Credits(task.Priority)
	if err != nil {
		return task, err
	}
	if _, err := e.ledger.ReserveForTask(ctx, task, credits); err != nil {
		e.logger.Warn("Credit reservation failed", "task_id", task.ID, "company_id", task.CompanyID, "credits", credits, "error", err)
		return task, err
	}
	e.logger.Info("Credits reserved", "task_id", task.ID, "company_id", task.CompanyID, "credits", credits)
	return e.activated(ctx, task.ID)
}

// ConfirmPayment is the payment collaborator's signal that a single-charge
// task has been paid.
func (e *Engine) ConfirmPayment(ctx context.Context, caller models.Caller, taskID string) (*models.Task, error) {
	if _, err := e.advance(ctx, caller, taskID, opConfirmPayment); err != nil {
		return nil, err
	}
	return e.activated(ctx, taskID)
}

// activated announces a task that just became PENDING and makes one
// best-effort offer. Scheduling misses are left for the sweep.
func (e *Engine) activated(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fromStore(err)
	}
	e.statusChanged(task)
	if _, err := e.offer(ctx, task); err != nil && !errors.Is(err, ErrNoDesignerAvailable) {
		e.logger.Warn("Initial offer failed", "task_id", task.ID, "error", err)
	}
	task, err = e.repo.GetTask(ctx, taskID)
	return task, fromStore(err)
}

// Assign offers a task on demand. A stale offer still hanging off the task
// is expired first and its designer skipped for this attempt.
func (e *Engine) Assign(ctx context.Context, caller models.Caller, taskID string) (*models.TaskAssignment, error) {
	if err := requireRole(caller, "assign tasks", models.RoleAdmin, models.RoleSystem); err != nil {
		return nil, err
	}
	task, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fromStore(err)
	}

	var exclude []string
	if task.CurrentAssignmentID != nil {
		current, err := e.repo.GetAssignment(ctx, *task.CurrentAssignmentID)
		if err != nil {
			return nil, fromStore(err)
		}
		now := e.clock.Now()
		if current.Status != models.AssignmentPending || !e.window.Expired(current.AssignedAt, now) {
			return nil, fmt.Errorf("%w: task %s already has offer %s", ErrStaleAction, task.ID, current.ID)
		}
		if _, err := e.expireOffer(ctx, current, now); err != nil && !errors.Is(err, ErrStaleAction) {
			return nil, err
		}
		exclude = append(exclude, current.DesignerID)
		if task, err = e.repo.GetTask(ctx, taskID); err != nil {
			return nil, fromStore(err)
		}
	}
	return e.offer(ctx, task, exclude...)
}

func (e *Engine) offer(ctx context.Context, task *models.Task, exclude ...string) (*models.TaskAssignment, error) {
	a, err := e.scheduler.Assign(ctx, task, exclude...)
	if err != nil {
		if errors.Is(err, ErrNoDesignerAvailable) {
			schedulingMisses.Inc()
			e.logger.Info("No designer available", "task_id", task.ID, "excluded", exclude)
		}
		return nil, err
	}
	offersCreated.Inc()
	e.logger.Info("Offer created", "task_id", a.TaskID, "assignment_id", a.ID, "designer_id", a.DesignerID,
		"deadline", e.window.Deadline(a.AssignedAt))
	e.announce(notify.TypeOffered, a)
	return a, nil
}

// Confirm locks the task to the confirming designer. Past the deadline the
// offer is expired instead and ErrExpired returned.
func (e *Engine) Confirm(ctx context.Context, caller models.Caller, assignmentID string) (*models.TaskAssignment, *models.Task, error) {
	a, err := e.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, fromStore(err)
	}
	// A lapsed offer is expired on any attempt, including a forbidden one.
	now := e.clock.Now()
	actionErr := e.checkActionable(ctx, a, now)
	if caller.Role != models.RoleDesigner || caller.ID != a.DesignerID {
		err := fmt.Errorf("%w: offer %s belongs to another designer", ErrForbidden, a.ID)
		observeTransition("confirm", err)
		return nil, nil, err
	}
	if actionErr != nil {
		observeTransition("confirm", actionErr)
		return nil, nil, actionErr
	}

	cutoff := e.window.Cutoff(now)
	confirmed, task, err := e.repo.ConfirmOffer(ctx, store.AssignmentTransition{
		AssignmentID: a.ID,
		From:         models.AssignmentPending,
		To:           models.AssignmentConfirmed,
		At:           now,
		DesignerID:   caller.ID,
		OfferedAfter: &cutoff,
	})
	if err != nil {
		err = e.lostRace(ctx, a.ID, fromStore(err))
		observeTransition("confirm", err)
		e.logger.Warn("Confirm lost", "assignment_id", a.ID, "task_id", a.TaskID, "designer_id", caller.ID, "error", err)
		return nil, nil, err
	}
	observeTransition("confirm", nil)
	confirmLatency.Observe(now.Sub(a.AssignedAt).Seconds())
	e.logger.Info("Offer confirmed", "assignment_id", confirmed.ID, "task_id", task.ID, "designer_id", confirmed.DesignerID)
	e.announce(notify.TypeConfirmed, confirmed)
	e.statusChanged(task)
	return confirmed, task, nil
}

// Reject releases an offer. Designers reject their own offers; admins may
// force-release any. The next offer skips the released designer.
func (e *Engine) Reject(ctx context.Context, caller models.Caller, assignmentID string) (*Release, error) {
	a, err := e.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fromStore(err)
	}
	now := e.clock.Now()
	actionErr := e.checkActionable(ctx, a, now)
	ownOffer := caller.Role == models.RoleDesigner && caller.ID == a.DesignerID
	if !ownOffer && caller.Role != models.RoleAdmin {
		err := fmt.Errorf("%w: %s may not reject offer %s", ErrForbidden, caller.ID, a.ID)
		observeTransition("reject", err)
		return nil, err
	}
	if actionErr != nil {
		observeTransition("reject", actionErr)
		return nil, actionErr
	}

	cutoff := e.window.Cutoff(now)
	tr := store.AssignmentTransition{
		AssignmentID: a.ID,
		From:         models.AssignmentPending,
		To:           models.AssignmentRejected,
		At:           now,
		OfferedAfter: &cutoff,
	}
	if ownOffer {
		tr.DesignerID = caller.ID
	}
	released, err := e.repo.ReleaseOffer(ctx, tr)
	if err != nil {
		err = e.lostRace(ctx, a.ID, fromStore(err))
		observeTransition("reject", err)
		e.logger.Warn("Reject lost", "assignment_id", a.ID, "task_id", a.TaskID, "error", err)
		return nil, err
	}
	observeTransition("reject", nil)
	e.logger.Info("Offer rejected", "assignment_id", released.ID, "task_id", released.TaskID, "designer_id", released.DesignerID, "by", caller.ID)
	e.announce(notify.TypeRejected, released)
	return &Release{Released: released, Next: e.requeueAfter(ctx, released)}, nil
}

// checkActionable is the shared pre-check for confirm and reject. An offer
// found past its deadline is expired here, whoever the caller is.
func (e *Engine) checkActionable(ctx context.Context, a *models.TaskAssignment, now time.Time) error {
	switch {
	case a.Status == models.AssignmentExpired:
		return fmt.Errorf("%w: offer %s", ErrExpired, a.ID)
	case a.Status != models.AssignmentPending:
		return fmt.Errorf("%w: offer %s is %s", ErrStaleAction, a.ID, a.Status)
	case e.window.Expired(a.AssignedAt, now):
		if _, err := e.expireAndRequeue(ctx, a, now); err != nil && !errors.Is(err, ErrStaleAction) {
			return err
		}
		return fmt.Errorf("%w: offer %s passed its deadline %s", ErrExpired, a.ID, e.window.Deadline(a.AssignedAt).Format(time.RFC3339))
	}
	return nil
}

// lostRace turns a failed guard into ErrExpired when the offer was expired
// underneath us.
func (e *Engine) lostRace(ctx context.Context, assignmentID string, err error) error {
	if !errors.Is(err, ErrStaleAction) {
		return err
	}
	if cur, gerr := e.repo.GetAssignment(ctx, assignmentID); gerr == nil && cur.Status == models.AssignmentExpired {
		return fmt.Errorf("%w: offer %s", ErrExpired, assignmentID)
	}
	return err
}

// GetAssignment reads an offer, expiring it first if its deadline passed.
func (e *Engine) GetAssignment(ctx context.Context, caller models.Caller, assignmentID string) (*models.TaskAssignment, error) {
	a, err := e.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fromStore(err)
	}
	switch caller.Role {
	case models.RoleAdmin, models.RoleSystem:
	case models.RoleDesigner:
		if caller.ID != a.DesignerID {
			return nil, fmt.Errorf("%w: offer %s belongs to another designer", ErrForbidden, a.ID)
		}
	default:
		return nil, fmt.Errorf("%w: %s may not read offers", ErrForbidden, caller.Role)
	}

	now := e.clock.Now()
	if a.Status != models.AssignmentPending || !e.window.Expired(a.AssignedAt, now) {
		return a, nil
	}
	if _, err := e.expireAndRequeue(ctx, a, now); err != nil && !errors.Is(err, ErrStaleAction) {
		return nil, err
	}
	a, err = e.repo.GetAssignment(ctx, assignmentID)
	return a, fromStore(err)
}

func (e *Engine) expireOffer(ctx context.Context, a *models.TaskAssignment, now time.Time) (*models.TaskAssignment, error) {
	cutoff := e.window.Cutoff(now)
	released, err := e.repo.ReleaseOffer(ctx, store.AssignmentTransition{
		AssignmentID:  a.ID,
		From:          models.AssignmentPending,
		To:            models.AssignmentExpired,
		At:            now,
		OfferedBefore: &cutoff,
	})
	err = fromStore(err)
	observeTransition("expire", err)
	if err != nil {
		if errors.Is(err, ErrStaleAction) {
			e.logger.Debug("Offer already resolved", "assignment_id", a.ID, "task_id", a.TaskID)
		}
		return nil, err
	}
	e.logger.Info("Offer expired", "assignment_id", released.ID, "task_id", released.TaskID, "designer_id", released.DesignerID)
	e.announce(notify.TypeExpired, released)
	return released, nil
}

func (e *Engine) expireAndRequeue(ctx context.Context, a *models.TaskAssignment, now time.Time) (*Release, error) {
	released, err := e.expireOffer(ctx, a, now)
	if err != nil {
		return nil, err
	}
	return &Release{Released: released, Next: e.requeueAfter(ctx, released)}, nil
}

// requeueAfter never fails the release that triggered it.
func (e *Engine) requeueAfter(ctx context.Context, released *models.TaskAssignment) *models.TaskAssignment {
	next, err := e.requeue.OnReleased(ctx, released)
	if err != nil && !errors.Is(err, ErrNoDesignerAvailable) {
		e.logger.Warn("Requeue failed", "task_id", released.TaskID, "error", err)
	}
	return next
}

// ExpireStale expires up to limit offers past their deadline and requeues
// each task.
func (e *Engine) ExpireStale(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	now := e.clock.Now()
	offers, err := e.repo.ListExpiredOffers(ctx, e.window.Cutoff(now), limit)
	if err != nil {
		return res, err
	}
	for _, a := range offers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rel, err := e.expireAndRequeue(ctx, a, now)
		if err != nil {
			if !errors.Is(err, ErrStaleAction) {
				e.logger.Warn("Expire failed", "assignment_id", a.ID, "error", err)
			}
			continue
		}
		res.Expired++
		if rel.Next != nil {
			res.Offered++
		} else {
			res.Unplaced++
		}
	}
	return res, nil
}

// ScheduleWaiting offers PENDING tasks that have no outstanding offer, most
// urgent and oldest first.
func (e *Engine) ScheduleWaiting(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	tasks, err := e.repo.ListSchedulable(ctx, limit)
	if err != nil {
		return res, err
	}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := e.offer(ctx, task)
		switch {
		case err == nil:
			res.Offered++
		case errors.Is(err, ErrNoDesignerAvailable):
			res.Unplaced++
		case errors.Is(err, ErrStaleAction), errors.Is(err, ErrIllegalTransition):
		default:
			e.logger.Warn("Scheduling failed", "task_id", task.ID, "error", err)
		}
	}
	return res, nil
}

func (e *Engine) StartWork(ctx context.Context, caller models.Caller, taskID string) (*models.Task, error) {
	return e.advance(ctx, caller, taskID, opStartWork)
}

func (e *Engine) SubmitForQA(ctx context.Context, caller models.Caller, taskID string) (*models.Task, error) {
	return e.advance(ctx, caller, taskID, opSubmitForQA)
}

func (e *Engine) ApproveQA(ctx context.Context, caller models.Caller, taskID string) (*models.Task, error) {
	return e.advance(ctx, caller, taskID, opApproveQA)
}

func (e *Engine) RequestRework(ctx context.Context, caller models.Caller, taskID string) (*models.Task, error) {
	return e.advance(ctx, caller, taskID, opRequestRework)
}

func (e *Engine) RaiseComplaint(ctx context.Context, caller models.Caller, taskID string) (*models.Task, error) {
	return e.advance(ctx, caller, taskID, opRaiseComplaint)
}

// Cancel takes a task out of consideration. A still-pending offer on it can
// no longer be confirmed and is expired by the next sweep.
func (e *Engine) Cancel(ctx context.Context, caller models.Caller, taskID string) (*models.Task, error) {
	return e.advance(ctx, caller, taskID, opCancel)
}

func (e *Engine) advance(ctx context.Context, caller models.Caller, taskID string, op workOp) (*models.Task, error) {
	task, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fromStore(err)
	}
	if err := op.authorize(caller, task); err != nil {
		observeTransition(op.name, err)
		return nil, err
	}
	if err := op.check(task); err != nil {
		observeTransition(op.name, err)
		return nil, err
	}

	tr := store.TaskTransition{TaskID: task.ID, From: op.from, To: op.to, At: e.clock.Now()}
	if op.assignee && caller.Role == models.RoleDesigner {
		tr.AssigneeID = caller.ID
	}
	updated, err := e.repo.TransitionTask(ctx, tr)
	err = fromStore(err)
	observeTransition(op.name, err)
	if err != nil {
		e.logger.Warn("Task transition lost", "task_id", task.ID, "op", op.name, "error", err)
		return nil, err
	}
	e.logger.Info("Task transitioned", "task_id", updated.ID, "op", op.name, "from", task.Status, "to", updated.Status)
	e.statusChanged(updated)
	return updated, nil
}

func (e *Engine) Quote(priority models.Priority) (int64, error) {
	return e.pricing.Quote(priority)
}

func (e *Engine) Reserve(ctx context.Context, caller models.Caller, ownerID string, amount int) ([]models.CreditDebit, error) {
	if err := requireRole(caller, "reserve credits", models.RoleClient, models.RoleAdmin, models.RoleSystem); err != nil {
		return nil, err
	}
	return e.ledger.Reserve(ctx, ownerID, amount)
}

func (e *Engine) Balance(ctx context.Context, caller models.Caller, ownerID string) (*models.CreditBalance, error) {
	if err := requireRole(caller, "read balances", models.RoleClient, models.RoleAdmin, models.RoleSystem); err != nil {
		return nil, err
	}
	return e.ledger.Balance(ctx, ownerID)
}

func (e *Engine) Task(ctx context.Context, taskID string) (*models.Task, error) {
	t, err := e.repo.GetTask(ctx, taskID)
	return t, fromStore(err)
}

// History lists every offer made for a task, oldest first.
func (e *Engine) History(ctx context.Context, taskID string) ([]*models.TaskAssignment, error) {
	list, err := e.repo.ListAssignments(ctx, taskID)
	return list, fromStore(err)
}

func (e *Engine) announce(kind string, a *models.TaskAssignment) {
	e.notifier.Notify(notify.Notification{
		Type:         kind,
		TaskID:       a.TaskID,
		AssignmentID: a.ID,
		DesignerID:   a.DesignerID,
		Status:       string(a.Status),
		At:           e.clock.Now(),
	})
}

func (e *Engine) statusChanged(t *models.Task) {
	n := notify.Notification{
		Type:   notify.TypeStatusChanged,
		TaskID: t.ID,
		Status: string(t.Status),
		At:     e.clock.Now(),
	}
	if t.AssignedToID != nil {
		n.DesignerID = *t.AssignedToID
	}
	e.notifier.Notify(n)
}
