package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/and161185/caregate/internal/convert"
	"github.com/and161185/caregate/internal/rpc"
)

var errUsage = errors.New("usage")

func need(fs *flag.FlagSet, vals ...string) error {
	for _, v := range vals {
		if v == "" {
			return fmt.Errorf("%s: missing required flag: %w", fs.Name(), errUsage)
		}
	}
	return nil
}

// run executes one subcommand. args[0] is the command name.
func run(ctx context.Context, args []string, out io.Writer, connect connector) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "version":
		fmt.Fprintf(out, "caregate %s (%s)\n", version, buildDate)
		return nil
	case "logout":
		return clearToken()
	case "register":
		return cmdRegister(ctx, rest, out, connect)
	case "login":
		return cmdLogin(ctx, rest, out, connect)
	case "login-google":
		return cmdLoginGoogle(ctx, rest, out, connect)
	}

	authed, ok := authedCommands[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
	token, err := loadToken()
	if err != nil {
		return err
	}
	c, closeFn, err := connect(ctx, token)
	if err != nil {
		return err
	}
	defer closeFn()
	return authed(ctx, c, rest, out)
}

type authedCommand func(ctx context.Context, c *rpc.Client, args []string, out io.Writer) error

var authedCommands = map[string]authedCommand{
	"passwd":         cmdPasswd,
	"me":             cmdMe,
	"submit":         cmdSubmit,
	"my-application": cmdMyApplication,
	"show":           cmdShow,
	"events":         cmdEvents,
	"list":           cmdList,
	"review":         cmdReview,
	"set-status":     cmdSetStatus,
}

func startSession(ctx context.Context, connect connector, out io.Writer, call func(*rpc.Client) (*convert.Session, error)) error {
	c, closeFn, err := connect(ctx, "")
	if err != nil {
		return err
	}
	defer closeFn()

	sess, err := call(c)
	if err != nil {
		return err
	}
	if err := saveToken(sess.Token, sess.ExpiresAt); err != nil {
		return err
	}
	printJSON(out, sess.Identity)
	return nil
}

func cmdRegister(ctx context.Context, args []string, out io.Writer, connect connector) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var req convert.RegisterRequest
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Password, "password", "", "password")
	fs.StringVar(&req.Role, "role", "", "client|caregiver (default client)")
	fs.StringVar(&req.GivenName, "given", "", "given name")
	fs.StringVar(&req.FamilyName, "family", "", "family name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, req.Email, req.Password); err != nil {
		return err
	}
	return startSession(ctx, connect, out, func(c *rpc.Client) (*convert.Session, error) {
		return c.Register(ctx, &req)
	})
}

func cmdLogin(ctx context.Context, args []string, out io.Writer, connect connector) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var req convert.LoginRequest
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Password, "password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, req.Email, req.Password); err != nil {
		return err
	}
	return startSession(ctx, connect, out, func(c *rpc.Client) (*convert.Session, error) {
		return c.Login(ctx, &req)
	})
}

func cmdLoginGoogle(ctx context.Context, args []string, out io.Writer, connect connector) error {
	fs := flag.NewFlagSet("login-google", flag.ContinueOnError)
	var req convert.GoogleLoginRequest
	fs.StringVar(&req.IDToken, "id-token", "", "Google ID token")
	fs.StringVar(&req.Role, "role", "", "role for a new account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, req.IDToken); err != nil {
		return err
	}
	return startSession(ctx, connect, out, func(c *rpc.Client) (*convert.Session, error) {
		return c.LoginGoogle(ctx, &req)
	})
}

func cmdPasswd(ctx context.Context, c *rpc.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	var req convert.ChangePasswordRequest
	fs.StringVar(&req.OldPassword, "old", "", "current password (omit for federated accounts)")
	fs.StringVar(&req.NewPassword, "new", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, req.NewPassword); err != nil {
		return err
	}
	if err := c.ChangePassword(ctx, &req); err != nil {
		return err
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func cmdMe(ctx context.Context, c *rpc.Client, _ []string, out io.Writer) error {
	id, err := c.Me(ctx)
	if err != nil {
		return err
	}
	printJSON(out, id)
	return nil
}

func cmdSubmit(ctx context.Context, c *rpc.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	var (
		p     convert.StagePayload
		avail convert.Availability
	)
	fs.StringVar(&p.Stage, "stage", "", "application|interview|training|internship|hired")
	fs.StringVar(&p.ResumeRef, "resume", "", "resume reference (application)")
	fs.StringVar(&p.CoverLetter, "cover", "", "cover letter (application)")
	fs.BoolVar(&avail.Weekdays, "weekdays", false, "available on weekdays (application)")
	fs.BoolVar(&avail.Weekends, "weekends", false, "available on weekends (application)")
	fs.BoolVar(&avail.Nights, "nights", false, "available for nights (application)")
	fs.BoolVar(&avail.LiveIn, "live-in", false, "available for live-in care (application)")
	fs.StringVar(&p.InterviewVideoRef, "video", "", "interview video reference (interview)")
	fs.BoolVar(&p.TrainingAgreementAccepted, "accept-training", false, "accept the training agreement (training)")
	fs.StringVar(&p.InternshipSelection, "internship", "", "internship selection (internship)")
	fs.StringVar(&p.CareerPath, "career-path", "", "career path (hired)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, p.Stage); err != nil {
		return err
	}
	if p.Stage == "application" {
		p.Availability = &avail
	}
	app, err := c.SubmitStage(ctx, &p)
	if err != nil {
		return err
	}
	printJSON(out, app)
	return nil
}

func cmdMyApplication(ctx context.Context, c *rpc.Client, _ []string, out io.Writer) error {
	app, err := c.MyApplication(ctx)
	if err != nil {
		return err
	}
	printJSON(out, app)
	return nil
}

func idFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.String("id", "", "application id")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *id, need(fs, *id)
}

func cmdShow(ctx context.Context, c *rpc.Client, args []string, out io.Writer) error {
	id, err := idFlag("show", args)
	if err != nil {
		return err
	}
	app, err := c.GetApplication(ctx, id)
	if err != nil {
		return err
	}
	printJSON(out, app)
	return nil
}

func cmdEvents(ctx context.Context, c *rpc.Client, args []string, out io.Writer) error {
	id, err := idFlag("events", args)
	if err != nil {
		return err
	}
	evs, err := c.ApplicationEvents(ctx, id)
	if err != nil {
		return err
	}
	printJSON(out, evs.Events)
	return nil
}

func cmdList(ctx context.Context, c *rpc.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var req convert.ListApplicationsRequest
	fs.StringVar(&req.Stage, "stage", "", "filter by stage")
	fs.StringVar(&req.Status, "status", "", "filter by stage status")
	fs.IntVar(&req.Limit, "limit", 0, "page size")
	fs.IntVar(&req.Offset, "offset", 0, "page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	apps, err := c.ListApplications(ctx, &req)
	if err != nil {
		return err
	}
	printJSON(out, apps.Applications)
	return nil
}

func cmdReview(ctx context.Context, c *rpc.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	var req convert.ReviewRequest
	fs.StringVar(&req.ApplicationID, "id", "", "application id")
	fs.StringVar(&req.Stage, "stage", "", "stage under review")
	fs.StringVar(&req.Action, "action", "", "approve|reject")
	fs.StringVar(&req.Reason, "reason", "", "reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, req.ApplicationID, req.Stage, req.Action); err != nil {
		return err
	}
	app, err := c.ReviewApplication(ctx, &req)
	if err != nil {
		return err
	}
	printJSON(out, app)
	return nil
}

func cmdSetStatus(ctx context.Context, c *rpc.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("set-status", flag.ContinueOnError)
	var req convert.SetStatusRequest
	fs.StringVar(&req.IdentityID, "id", "", "identity id")
	fs.StringVar(&req.Status, "status", "", "active|pending|blocked")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, req.IdentityID, req.Status); err != nil {
		return err
	}
	id, err := c.SetIdentityStatus(ctx, &req)
	if err != nil {
		return err
	}
	printJSON(out, id)
	return nil
}
