package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/fernandezvara/apikit"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func loadApp() (*app, *apikit.Config, error) {
	cfg, err := apikit.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	tk, err := apikit.NewToolkitFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(tk)
	if err != nil {
		tk.Close()
		return nil, nil, err
	}
	return a, cfg, nil
}

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, err := loadApp()
			if err != nil {
				return err
			}
			defer a.tk.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if migrate {
				if err := a.tk.Migrate(ctx); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:         cfg.Server.Address,
				Handler:      a.router(),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				a.tk.Logger.Info("server listening", zap.String("address", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.tk.Logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			defer a.tk.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := a.tk.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println(color.New(color.FgGreen).Sprint("✓"), "migrations applied")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue a bearer token",
		Long: `Issue a bearer token for subject with the given role.

Examples:
  apikit-sample token 6f1c0d9e-2f4b-4c8e-9a57-1f0a3b2c4d5e --role admin
  apikit-sample token worker --role queue-worker`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := apikit.LoadConfig(configPath)
			if err != nil {
				return err
			}
			tokens, err := apikit.NewTokenService(cfg.Auth.JWT)
			if err != nil {
				return err
			}
			token, err := tokens.IssueToken(args[0], role)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", roleUser, "role carried by the token")
	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the API routes and who may call them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := apikit.LoadConfig(configPath)
			if err != nil {
				return err
			}
			// Routes are listed without connecting to the database.
			tk := apikit.NewToolkit(apikit.NewDatabase(nil), apikit.WithPaging(cfg.Paging))
			a, err := newApp(tk)
			if err != nil {
				return err
			}
			a.router()
			displayRoutes(tk.Routes())
			return nil
		},
	}
}

func displayRoutes(routes []apikit.RouteInfo) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tPATH\tROUTE\tACCESS")
	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", methodColor(r.Method), r.Path, r.Route, access(r.Rules))
	}
	w.Flush()
}

func methodColor(method string) string {
	switch method {
	case http.MethodGet:
		return color.New(color.FgBlue).Sprint(method)
	case http.MethodPost:
		return color.New(color.FgGreen).Sprint(method)
	case http.MethodPut, http.MethodPatch:
		return color.New(color.FgYellow).Sprint(method)
	case http.MethodDelete:
		return color.New(color.FgRed).Sprint(method)
	}
	return method
}

func access(rules *apikit.RouteRules) string {
	switch {
	case rules == nil:
		return color.New(color.FgRed).Sprint("disabled")
	case rules.AllowAnonymous:
		return color.New(color.FgGreen).Sprint("anonymous")
	default:
		return strings.Join(rules.Roles, ", ")
	}
}
