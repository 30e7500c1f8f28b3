package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gelozr/authflow/app"
	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/config"
	"github.com/gelozr/authflow/devserver"
	"github.com/gelozr/authflow/log"
	"github.com/gelozr/authflow/storage"
)

const settleTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	email      string
	password   string
}

func newRootCmd() *cobra.Command {
	c := &cli{configPath: os.Getenv("AUTHFLOW_CONFIG")}

	root := &cobra.Command{
		Use:   "authflow",
		Short: "Client-side authentication lifecycle; every invocation is one page load",

		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", c.configPath, "YAML config file (env AUTHFLOW_CONFIG)")

	login := &cobra.Command{
		Use:   "login <provider>",
		Short: "Start an authentication attempt with a provider",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runLogin,
	}
	login.Flags().StringVar(&c.email, "email", "", "email for password providers")
	login.Flags().StringVar(&c.password, "password", "", "password for password providers")

	root.AddCommand(
		login,
		&cobra.Command{
			Use:   "resume <callback-url>",
			Short: "Load the page the identity provider redirected back to",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runResume,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the logged-in user",
			Args:  cobra.NoArgs,
			RunE:  c.runStatus,
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Log out and clear the persisted session",
			Args:  cobra.NoArgs,
			RunE:  c.runLogout,
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Run the development session server",
			Args:  cobra.NoArgs,
			RunE:  c.runServe,
		},
	)

	return root
}

// pageLoad builds the application at href and waits for the startup checks.
func (c *cli) pageLoad(cmd *cobra.Command, href string, opts ...app.Option) (*app.App, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}

	opts = append([]app.Option{app.WithOutput(cmd.OutOrStdout())}, opts...)
	if href != "" {
		opts = append(opts, app.WithHref(href))
	}

	a, err := app.New(cmd.Context(), cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := settle(cmd.Context(), a); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (c *cli) runLogin(cmd *cobra.Command, args []string) error {
	a, err := c.pageLoad(cmd, "", app.WithCredentials(c.credentials(cmd)))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.Service.TryAuthAndLogin(ctx, args[0]); err != nil {
		return fmt.Errorf("login with %s: %w", args[0], err)
	}
	if err := settle(ctx, a); err != nil {
		return err
	}

	if len(a.Window.Navigations()) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "open the URL above, then run: authflow resume <callback-url>")
		return nil
	}
	return printStatus(cmd.OutOrStdout(), a)
}

func (c *cli) runResume(cmd *cobra.Command, args []string) error {
	a, err := c.pageLoad(cmd, args[0])
	if err != nil {
		return err
	}
	defer a.Close()

	return printStatus(cmd.OutOrStdout(), a)
}

func (c *cli) runStatus(cmd *cobra.Command, _ []string) error {
	a, err := c.pageLoad(cmd, "")
	if err != nil {
		return err
	}
	defer a.Close()

	return printStatus(cmd.OutOrStdout(), a)
}

func (c *cli) runLogout(cmd *cobra.Command, _ []string) error {
	a, err := c.pageLoad(cmd, "")
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Service.Logout(cmd.Context()); err != nil {
		return err
	}
	if err := settle(cmd.Context(), a); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "logged out")
	return nil
}

func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	logger, err := log.NewSlogLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	backend, err := storage.Open(ctx, cfg.Server.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	var opts []devserver.Option
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		path := cfg.Metrics.Path
		opts = append(opts, devserver.WithRoutes(func(r chi.Router) {
			r.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		}))
	}

	srv, err := devserver.New(ctx, cfg.Server, backend, logger, opts...)
	if err != nil {
		return err
	}
	return srv.Run(ctx, cfg.Server.Addr, nil)
}

// credentials uses the flags, prompting on stdin for whatever is missing.
func (c *cli) credentials(cmd *cobra.Command) auth.CredentialsFunc {
	return func(context.Context) (auth.PasswordCredentials, error) {
		creds := auth.PasswordCredentials{Email: c.email, Password: c.password}
		if creds.Email != "" && creds.Password != "" {
			return creds, nil
		}

		in := bufio.NewReader(cmd.InOrStdin())
		prompt := func(label string) (string, error) {
			fmt.Fprint(cmd.ErrOrStderr(), label+": ")
			line, err := in.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return "", err
			}
			return strings.TrimSpace(line), nil
		}

		var err error
		if creds.Email == "" {
			if creds.Email, err = prompt("Email"); err != nil {
				return creds, err
			}
		}
		if creds.Password == "" {
			if creds.Password, err = prompt("Password"); err != nil {
				return creds, err
			}
		}
		return creds, nil
	}
}

func settle(ctx context.Context, a *app.App) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := a.Settle(ctx); err != nil {
		return fmt.Errorf("waiting for auth state: %w", err)
	}
	return nil
}

func printStatus(w io.Writer, a *app.App) error {
	user, err := a.State.User()
	if errors.Is(err, auth.ErrNotLoggedIn) {
		fmt.Fprintln(w, "not logged in")
		return nil
	}
	if err != nil {
		return err
	}

	name := user.Email
	if name == "" {
		name = "guest"
	}
	fmt.Fprintf(w, "logged in as %s (%s)\n", name, user.ID)
	return nil
}
