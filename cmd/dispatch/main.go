package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"designer-dispatch/internal/config"
	"designer-dispatch/internal/dispatch"
	"designer-dispatch/internal/models"
)

const Version = "0.3.0"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	if os.Args[1] == "--version" || os.Args[1] == "version" {
		fmt.Printf("designer-dispatch version %s\n", Version)
		return
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(args)
	case "sweep":
		err = runSweep(args)
	case "migrate":
		err = runMigrate(args)
	case "submit":
		err = runSubmit(args)
	case "pay":
		err = runConfirmPayment(args)
	case "assign":
		err = runAssign(args)
	case "confirm":
		err = runConfirm(args)
	case "reject":
		err = runReject(args)
	case "show":
		err = runShow(args)
	case "work":
		err = runWork(args)
	case "credits":
		err = runCredits(args)
	case "quote":
		err = runQuote(args)
	case "admin":
		err = runAdmin(args)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		os.Exit(report(os.Stderr, err))
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: dispatch <serve|sweep|migrate|submit|pay|assign|confirm|reject|show|work|credits|quote|admin|version> [args]")
}

// report prints err with its taxonomy code and returns the exit status.
func report(w io.Writer, err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	var usageErr usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(w, "error: %v\n", err)
		return 2
	}
	fmt.Fprintf(w, "error [%s]: %v\n", dispatch.Kind(err), err)
	return 1
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// command is one subcommand invocation: layered config plus its own flags.
type command struct {
	fs     *flag.FlagSet
	cfg    *config.Config
	args   []string
	caller *string
}

func newCommand(name string, args []string) (*command, error) {
	cfg, err := config.Load(args)
	if err != nil {
		return nil, err
	}
	configPath, _ := config.ResolveConfigPath(args)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", configPath, "Path to dispatch config file")
	cfg.BindFlags(fs)
	return &command{fs: fs, cfg: cfg, args: args}, nil
}

// withCaller registers --as, the identity the command acts under.
func (c *command) withCaller(fallback string) *command {
	c.caller = c.fs.String("as", fallback, "Caller as ROLE[:ID], e.g. DESIGNER:d-17 or ADMIN")
	return c
}

func (c *command) parse() error {
	if err := c.fs.Parse(c.args); err != nil {
		return err
	}
	return c.cfg.Validate()
}

func (c *command) callerIdentity() (models.Caller, error) {
	if c.caller == nil {
		return models.Caller{ID: "cli", Role: models.RoleSystem}, nil
	}
	return parseCaller(*c.caller)
}

func parseCaller(value string) (models.Caller, error) {
	role, id, _ := strings.Cut(strings.TrimSpace(value), ":")
	caller := models.Caller{ID: strings.TrimSpace(id), Role: models.Role(strings.ToUpper(strings.TrimSpace(role)))}
	switch caller.Role {
	case models.RoleDesigner, models.RoleClient:
		if caller.ID == "" {
			return models.Caller{}, usagef("--as %s needs an id (%s:<id>)", caller.Role, caller.Role)
		}
	case models.RoleAdmin, models.RoleSystem:
		if caller.ID == "" {
			caller.ID = strings.ToLower(string(caller.Role))
		}
	default:
		return models.Caller{}, usagef("unknown caller role %q", role)
	}
	return caller, nil
}

func parsePriority(value string) (models.Priority, error) {
	p := models.Priority(strings.ToUpper(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", usagef("unknown priority %q (NORMAL|EXPRESS|URGENT)", value)
	}
	return p, nil
}

func parseFunding(value string) (models.Funding, error) {
	f := models.Funding(strings.ToUpper(strings.TrimSpace(value)))
	switch f {
	case models.FundingCredits, models.FundingPayment:
		return f, nil
	}
	return "", usagef("unknown funding %q (CREDITS|PAYMENT)", value)
}

func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return usagef("--%s is required", pairs[i])
		}
	}
	return nil
}
