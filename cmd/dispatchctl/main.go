package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shiva/sosdispatch/internal/middleware"
	"github.com/shiva/sosdispatch/internal/model"
)

var rootCmd = &cobra.Command{
	Use:   "dispatchctl",
	Short: "SOS dispatch operator CLI",
	Long: `dispatchctl talks to the dispatch API.

Cases move pending -> assigned -> resolved, or end as cancelled.
A claim binds one available unit to one pending case; a release closes
the case and frees the unit. The feed is the same view dashboards poll.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DISPATCHCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("server", "s", "http://localhost:8080", "dispatch API base URL")
	rootCmd.PersistentFlags().StringP("token", "t", "", "bearer token")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(unitsCmd())
	rootCmd.AddCommand(casesCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(tokenCmd())
}

func apiClient() *client {
	return newClient(viper.GetString("server"), viper.GetString("token"))
}

// parseCoords reads "lon,lat".
func parseCoords(s string) (model.Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return model.Location{}, fmt.Errorf("coordinates must be lon,lat: %q", s)
	}
	loc := model.Location{Coordinates: make([]float64, 2)}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.Location{}, fmt.Errorf("coordinates must be lon,lat: %w", err)
		}
		loc.Coordinates[i] = v
	}
	return loc, nil
}

func feedCmd() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the dashboard feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			c := apiClient()
			out := cmd.OutOrStdout()

			show := func() error {
				v, err := c.Feed(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out, v)
				}
				renderFeed(out, v)
				return nil
			}
			if err := show(); err != nil || !watch {
				return err
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := show(); err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						fmt.Fprintln(cmd.ErrOrStderr(), "poll failed:", err)
					}
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval with --watch")
	return cmd
}

func unitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "units",
		Short: "Manage response units",
	}
	cmd.AddCommand(unitListCmd())
	cmd.AddCommand(unitRegisterCmd())
	cmd.AddCommand(unitStatusCmd())
	return cmd
}

func unitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := apiClient().Units(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), units)
			}
			renderUnits(cmd.OutOrStdout(), units)
			return nil
		},
	}
}

func unitRegisterCmd() *cobra.Command {
	var (
		category  string
		phone     string
		at        string
		personnel []string
	)
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a unit (starts available)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseCoords(at)
			if err != nil {
				return err
			}
			u, err := apiClient().RegisterUnit(cmd.Context(), map[string]any{
				"name":      args[0],
				"category":  category,
				"phone":     phone,
				"personnel": personnel,
				"location":  loc,
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), u)
			}
			renderUnits(cmd.OutOrStdout(), []model.Unit{*u})
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", string(model.UnitAmbulance), "ambulance, mobile_clinic or rescue_vehicle")
	cmd.Flags().StringVar(&phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&at, "at", "", "position as lon,lat")
	cmd.Flags().StringSliceVar(&personnel, "personnel", nil, "crew names")
	_ = cmd.MarkFlagRequired("at")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func unitStatusCmd() *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "status <unit-id> <available|busy|maintenance>",
		Short: "Set a unit's operator status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var taskPtr *string
			if cmd.Flags().Changed("task") {
				taskPtr = &task
			}
			u, err := apiClient().SetUnitStatus(cmd.Context(), args[0], model.UnitStatus(args[1]), taskPtr)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), u)
			}
			renderUnits(cmd.OutOrStdout(), []model.Unit{*u})
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "free-text current task")
	return cmd
}

func casesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "List and raise SOS cases",
	}
	cmd.AddCommand(caseListCmd())
	cmd.AddCommand(caseCreateCmd())
	return cmd
}

func caseListCmd() *cobra.Command {
	var (
		statuses []string
		reporter string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := apiClient().Cases(cmd.Context(), statuses, reporter)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), views)
			}
			renderCases(cmd.OutOrStdout(), "", views, time.Now())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable)")
	cmd.Flags().StringVar(&reporter, "reporter", "", "reporter id filter")
	return cmd
}

func caseCreateCmd() *cobra.Command {
	var (
		category    string
		severity    string
		at          string
		address     string
		description string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Raise an SOS case as the token's principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := parseCoords(at)
			if err != nil {
				return err
			}
			loc.Address = address
			body := map[string]any{
				"category":    category,
				"location":    loc,
				"description": description,
			}
			if severity != "" {
				body["severity"] = severity
			}
			c, err := apiClient().CreateCase(cmd.Context(), body)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), c)
			}
			renderCases(cmd.OutOrStdout(), "", []model.CaseView{{Case: *c}}, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", string(model.CaseGeneral), "ambulance, police, fire or general")
	cmd.Flags().StringVar(&severity, "severity", "", "low, medium, high or critical")
	cmd.Flags().StringVar(&at, "at", "", "position as lon,lat")
	cmd.Flags().StringVar(&address, "address", "", "street address")
	cmd.Flags().StringVarP(&description, "description", "d", "", "what happened")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <case-id> <unit-id>",
		Short: "Assign a unit to a pending case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			asg, err := apiClient().Claim(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), asg)
			}
			renderAssignment(cmd.OutOrStdout(), asg)
			return nil
		},
	}
}

func releaseCmd() *cobra.Command {
	var cancel bool
	cmd := &cobra.Command{
		Use:   "release <case-id>",
		Short: "Resolve a case and free its unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := model.CaseResolved
			if cancel {
				status = model.CaseCancelled
			}
			c, err := apiClient().Release(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), c)
			}
			renderCases(cmd.OutOrStdout(), "", []model.CaseView{{Case: *c}}, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&cancel, "cancel", false, "cancel instead of resolve")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <principal-id>",
		Short: "Mint a development bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			tok, err := middleware.IssueToken([]byte(secret), model.Principal{ID: args[0], Role: model.Role(role)}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret (defaults to $JWT_SECRET)")
	cmd.Flags().StringVar(&role, "role", string(model.RoleEmergencyAdmin), "patient, doctor, hospital_admin or emergency_admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
