package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/crewline/crewline/internal/client"
	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/internal/task"
)

var (
	app       = kingpin.New("crewline-agent", "Worker-side CLI for the crewline task engine")
	serverURL = app.Flag("server", "Server base URL").Envar("CREWLINE_SERVER_URL").Default("http://localhost:3100").String()
	token     = app.Flag("token", "API token (ta_...)").Envar("CREWLINE_TOKEN").Required().String()

	watchCmd    = app.Command("watch", "Stream events and print them as they happen")
	watchWorker = watchCmd.Flag("worker-id", "Worker id for event deduplication").String()

	sentinelCmd = app.Command("sentinel", "Supervise a watch child and restart it when this binary is updated")

	stepsCmd = app.Command("steps", "List my assigned steps")

	claimCmd = app.Command("claim", "Claim a pending step")
	claimID  = claimCmd.Arg("step-id", "Step ID").Required().String()

	submitCmd    = app.Command("submit", "Submit a result for a claimed step")
	submitID     = submitCmd.Arg("step-id", "Step ID").Required().String()
	submitResult = submitCmd.Arg("result", "Result text").Required().String()

	approveCmd = app.Command("approve", "Approve a step waiting for review")
	approveID  = approveCmd.Arg("step-id", "Step ID").Required().String()

	rejectCmd    = app.Command("reject", "Reject a step waiting for review")
	rejectID     = rejectCmd.Arg("step-id", "Step ID").Required().String()
	rejectReason = rejectCmd.Arg("reason", "Rejection reason").Required().String()

	appealCmd  = app.Command("appeal", "Appeal a rejection on a step you are assigned to")
	appealID   = appealCmd.Arg("step-id", "Step ID").Required().String()
	appealText = appealCmd.Arg("text", "Why the rejection should be reconsidered").Required().String()

	skipCmd    = app.Command("skip", "Skip a step (task creator only)")
	skipID     = skipCmd.Arg("step-id", "Step ID").Required().String()
	skipReason = skipCmd.Arg("reason", "Skip reason").String()

	tasksCmd = app.Command("tasks", "List tasks")

	createCmd   = app.Command("create", "Create a task")
	createTitle = createCmd.Arg("title", "Task title").Required().String()
	createDesc  = createCmd.Flag("description", "Task description").String()
	createMode  = createCmd.Flag("mode", "solo or team").Default("solo").String()

	registerCmd          = app.Command("register", "Register this user's agent identity")
	registerName         = registerCmd.Arg("name", "Agent name").Required().String()
	registerEmoji        = registerCmd.Flag("emoji", "Agent emoji").Default("🤖").String()
	registerCapabilities = registerCmd.Flag("capability", "Capability, repeatable").Strings()
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(*serverURL, *token)

	var err error
	switch command {
	case watchCmd.FullCommand():
		err = runWatch(ctx, c, *watchWorker)
	case sentinelCmd.FullCommand():
		err = runSentinel(ctx)
	case stepsCmd.FullCommand():
		err = runSteps(ctx, c)
	case claimCmd.FullCommand():
		err = runClaim(ctx, c, *claimID)
	case submitCmd.FullCommand():
		err = runSubmit(ctx, c, *submitID, *submitResult)
	case approveCmd.FullCommand():
		err = runApprove(ctx, c, *approveID)
	case rejectCmd.FullCommand():
		err = runReject(ctx, c, *rejectID, *rejectReason)
	case appealCmd.FullCommand():
		err = runAppeal(ctx, c, *appealID, *appealText)
	case skipCmd.FullCommand():
		err = runSkip(ctx, c, *skipID, *skipReason)
	case tasksCmd.FullCommand():
		err = runTasks(ctx, c)
	case createCmd.FullCommand():
		err = runCreate(ctx, c, *createTitle, *createDesc, *createMode)
	case registerCmd.FullCommand():
		err = runRegister(ctx, c, *registerName, *registerEmoji, *registerCapabilities)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		red.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runSteps(ctx context.Context, c *client.Client) error {
	steps, err := c.MySteps(ctx)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		faint.Println("no assigned steps")
		return nil
	}
	for _, s := range steps {
		marker := faint.Sprint("  waiting  ")
		if s.Status == step.StatusInProgress {
			marker = yellow.Sprint("  working  ")
		} else if s.Startable {
			marker = green.Sprint("  ready    ")
		}
		fmt.Printf("%s %s  %s %s\n", marker, s.ID, s.Title, faint.Sprintf("(%s)", s.TaskTitle))
	}
	return nil
}

func runClaim(ctx context.Context, c *client.Client, stepID string) error {
	s, err := c.Claim(ctx, stepID)
	if err != nil {
		return err
	}
	green.Printf("claimed %s: %s\n", s.ID, s.Title)
	return nil
}

func runSubmit(ctx context.Context, c *client.Client, stepID, result string) error {
	s, err := c.Submit(ctx, stepID, client.SubmitRequest{Result: result})
	if err != nil {
		return err
	}
	switch s.Status {
	case step.StatusWaitingApproval:
		yellow.Printf("submitted %s, waiting for approval\n", s.ID)
	default:
		green.Printf("submitted %s, status %s\n", s.ID, s.Status)
	}
	return nil
}

func runApprove(ctx context.Context, c *client.Client, stepID string) error {
	s, err := c.Approve(ctx, stepID)
	if err != nil {
		return err
	}
	green.Printf("approved %s\n", s.ID)
	return nil
}

func runReject(ctx context.Context, c *client.Client, stepID, reason string) error {
	s, err := c.Reject(ctx, stepID, reason)
	if err != nil {
		return err
	}
	yellow.Printf("rejected %s (attempt %d), back to pending\n", s.ID, s.RejectionCount)
	return nil
}

func runAppeal(ctx context.Context, c *client.Client, stepID, text string) error {
	s, err := c.Appeal(ctx, stepID, text)
	if err != nil {
		return err
	}
	cyan.Printf("appealed %s, waiting for the task creator\n", s.ID)
	return nil
}

func runSkip(ctx context.Context, c *client.Client, stepID, reason string) error {
	s, err := c.Skip(ctx, stepID, reason)
	if err != nil {
		return err
	}
	faint.Printf("skipped %s\n", s.ID)
	return nil
}

func runTasks(ctx context.Context, c *client.Client) error {
	tasks, err := c.ListTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		status := green.Sprint(string(t.Status))
		if t.Status == task.StatusOpen {
			status = yellow.Sprint(string(t.Status))
		}
		fmt.Printf("%s  [%s]  %s\n", t.ID, status, t.Title)
	}
	return nil
}

func runCreate(ctx context.Context, c *client.Client, title, description, mode string) error {
	t, steps, err := c.CreateTask(ctx, client.CreateTaskRequest{
		Title:       title,
		Description: description,
		Mode:        task.Mode(mode),
	})
	if err != nil {
		return err
	}
	green.Printf("created task %s: %s\n", t.ID, t.Title)
	for _, s := range steps {
		fmt.Printf("  %d. %s\n", s.Order, s.Title)
	}
	return nil
}

func runRegister(ctx context.Context, c *client.Client, name, emoji string, capabilities []string) error {
	a, err := c.RegisterAgent(ctx, name, emoji, capabilities)
	if err != nil {
		return err
	}
	green.Printf("registered agent %s %s (%s)\n", a.Emoji, a.Name, a.ID)
	return nil
}

// runWatch streams events until interrupted, reconnecting with backoff and
// resuming from the last processed event id so addressed events survive
// connection gaps.
func runWatch(ctx context.Context, c *client.Client, workerID string) error {
	var lastEventID string
	backoff := time.Second
	for {
		events, err := c.Stream(ctx, workerID, lastEventID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			faint.Fprintf(os.Stderr, "stream unavailable (%v), retrying in %s\n", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for ev := range events {
			if ev.Kind == eventbus.KindPing {
				continue
			}
			lastEventID = ev.ID
			printEvent(ev)
		}
		if ctx.Err() != nil {
			return nil
		}
		faint.Fprintln(os.Stderr, "stream closed, reconnecting")
	}
}

func printEvent(ev eventbus.Event) {
	ts := ev.CreatedAt.Format("15:04:05")
	kind := string(ev.Kind)
	switch {
	case ev.Kind == eventbus.KindChatIncoming:
		cyan.Printf("%s  %-20s %s %s\n", ts, kind, ev.Title, faint.Sprintf("from %s", ev.Meta["from"]))
	case ev.Kind.Actionable():
		green.Printf("%s  %-20s %s\n", ts, kind, ev.Title)
	case strings.HasPrefix(kind, "approval:"):
		yellow.Printf("%s  %-20s %s\n", ts, kind, ev.Title)
	default:
		fmt.Printf("%s  %-20s %s\n", ts, kind, ev.Title)
	}
}
