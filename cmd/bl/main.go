package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bookline/internal/app"
	"bookline/internal/config"
	"bookline/internal/db"
	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/migrate"
	"bookline/internal/repo"
	"bookline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bookline CLI",
	Long: `Bookline schedules tasks against shared finite resources.
Core concepts:
- Workspace: your .bookline directory holding the database; bookline.yml configures the organization and the resource-type catalog.
- Resource types: carry the booking default (blockable or not); resources can override it per asset.
- Tasks: scheduled work with planned resources, assignments, and dependencies; statuses go pending -> in_progress -> done (impossible/archived are exits, overdue is a flag).
- Bookings: the ledger of who holds which resource when; blockable resources are exclusive per time window.
- Recurrence: "2 weeks" style frequencies expand a root task into dated instances up to a horizon.
- Completion: marking a task done writes time logs per assignee and resource usage logs automatically.
- Event log: diary of changes, view with 'bl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("BOOKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(resourceTypeCmd())
	rootCmd.AddCommand(resourceCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(bookingCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage the organization"}
	org.AddCommand(orgInitCmd())
	org.AddCommand(orgShowCmd())
	return org
}

func orgInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace, config, and organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault("default-org")), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orgID, err := app.ResolveOrg(ctx, e.Config, viper.GetString("actor-id"), e.Repo)
				if err != nil {
					return err
				}
				fmt.Println("organization ready:", orgID)
				return nil
			})
		},
	}
	return cmd
}

func orgShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOrganization(ctx, e.Config.Organization.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountTasksByStatus(ctx, e.Config.Organization.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
	return cmd
}

func resourceTypeCmd() *cobra.Command {
	rt := &cobra.Command{Use: "resource-type", Short: "Manage resource types"}
	rt.AddCommand(resourceTypeCreateCmd())
	rt.AddCommand(resourceTypeListCmd())
	return rt
}

func resourceTypeCreateCmd() *cobra.Command {
	var name, description string
	var blockable bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a resource type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rt, err := e.CreateResourceType(ctx, engine.ResourceTypeCreateOptions{
					OrgID:       e.Config.Organization.ID,
					Name:        name,
					Description: description,
					IsBlockable: blockable,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rt)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "type name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().BoolVar(&blockable, "blockable", false, "resources of this type need exclusive booking by default")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func resourceTypeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resource types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				types, err := e.ListResourceTypes(ctx, e.Config.Organization.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(types)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Blockable", "Description"})
				for _, rt := range types {
					tw.AppendRow(table.Row{rt.ID, rt.Name, rt.IsBlockable, rt.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func resourceCmd() *cobra.Command {
	res := &cobra.Command{Use: "resource", Short: "Manage resources"}
	res.AddCommand(resourceCreateCmd())
	res.AddCommand(resourceListCmd())
	res.AddCommand(resourceShowCmd())
	return res
}

func resourceCreateCmd() *cobra.Command {
	var name, typeName, typeID, blockable, status string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ResourceCreateOptions{
				TypeID:      typeID,
				TypeName:    typeName,
				DisplayName: name,
				Status:      status,
				ActorID:     viper.GetString("actor-id"),
			}
			if blockable != "" {
				b, err := strconv.ParseBool(blockable)
				if err != nil {
					return fmt.Errorf("--blockable must be true or false: %w", err)
				}
				opts.Blockable = &b
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.OrgID = e.Config.Organization.ID
				r, err := e.CreateResource(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&typeName, "type", "", "resource type name")
	cmd.Flags().StringVar(&typeID, "type-id", "", "resource type id")
	cmd.Flags().StringVar(&blockable, "blockable", "", "override the type's booking default (true/false)")
	cmd.Flags().StringVar(&status, "resource-status", "", "resource status")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func resourceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resources, err := e.ListResources(ctx, e.Config.Organization.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(resources)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Blockable"})
				for _, r := range resources {
					typeName := ""
					blockable := false
					if r.Type != nil {
						typeName = r.Type.Name
						blockable = r.Type.IsBlockable
					}
					if r.IsBlockableOverride != nil {
						blockable = *r.IsBlockableOverride
					}
					tw.AppendRow(table.Row{r.ID, r.DisplayName, typeName, blockable})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func resourceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <resource-id>",
		Short: "Show a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.GetResource(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

// parseResourceFlag parses --resource values of the form
// id[:relationship[:quantity]], e.g. mill-1:uses:2.
func parseResourceFlag(values []string) ([]domain.TaskResource, error) {
	var out []domain.TaskResource
	for _, v := range values {
		parts := strings.Split(v, ":")
		tr := domain.TaskResource{ResourceID: parts[0]}
		if len(parts) > 1 && parts[1] != "" {
			tr.RelationshipType = parts[1]
		}
		if len(parts) > 2 {
			qty, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, fmt.Errorf("bad quantity in --resource %q: %w", v, err)
			}
			tr.Quantity = qty
		}
		if len(parts) > 3 {
			return nil, fmt.Errorf("bad --resource %q, want id[:relationship[:quantity]]", v)
		}
		out = append(out, tr)
	}
	return out, nil
}

func parseTimeFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be RFC3339 (e.g. 2026-03-01T09:00:00Z): %w", name, err)
	}
	return t, nil
}

func taskCreateCmd() *cobra.Command {
	var title, notes, priority, status, start, end, tz, repeat, until string
	var resources, assignees, dependsOn []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task (or a recurring series with --repeat/--until)",
		RunE: func(cmd *cobra.Command, args []string) error {
			startT, err := parseTimeFlag("start", start)
			if err != nil {
				return err
			}
			endT, err := parseTimeFlag("end", end)
			if err != nil {
				return err
			}
			untilT, err := parseTimeFlag("until", until)
			if err != nil {
				return err
			}
			taskResources, err := parseResourceFlag(resources)
			if err != nil {
				return err
			}
			var assignments []domain.Assignment
			for _, a := range assignees {
				assignments = append(assignments, domain.Assignment{UserID: a})
			}
			opts := engine.TaskCreateOptions{
				Title:           title,
				Notes:           notes,
				Priority:        priority,
				Status:          status,
				Start:           startT,
				End:             endT,
				Timezone:        tz,
				Resources:       taskResources,
				Assignments:     assignments,
				DependsOn:       dependsOn,
				RepeatFrequency: repeat,
				ActorID:         viper.GetString("actor-id"),
			}
			if !untilT.IsZero() {
				opts.TaskPeriod = &untilT
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.OrgID = e.Config.Organization.ID
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high|critical")
	cmd.Flags().StringVar(&status, "status", "", "initial status")
	cmd.Flags().StringVar(&start, "start", "", "schedule start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "schedule end (RFC3339)")
	cmd.Flags().StringVar(&tz, "tz", "", "timezone (defaults from config)")
	cmd.Flags().StringArrayVar(&resources, "resource", nil, "planned resource id[:relationship[:quantity]] (repeatable)")
	cmd.Flags().StringArrayVar(&assignees, "assignee", nil, "assigned user id (repeatable)")
	cmd.Flags().StringArrayVar(&dependsOn, "depends-on", nil, "dependency task id (repeatable)")
	cmd.Flags().StringVar(&repeat, "repeat", "", `repeat frequency, e.g. "2 weeks" or "daily"`)
	cmd.Flags().StringVar(&until, "until", "", "series horizon (RFC3339), required with --repeat")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, assignee, resource string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, repo.TaskFilters{
					OrgID:      e.Config.Organization.ID,
					Status:     status,
					AssigneeID: assignee,
					ResourceID: resource,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Start", "End", "Resources"})
				for _, t := range tasks {
					names := make([]string, 0, len(t.Resources))
					for _, r := range t.Resources {
						if r.Resource != nil {
							names = append(names, r.Resource.DisplayName)
						} else {
							names = append(names, r.ResourceID)
						}
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status,
						t.Schedule.Start.Format(time.RFC3339), t.Schedule.End.Format(time.RFC3339),
						strings.Join(names, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&resource, "resource", "", "planned resource id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with resources, assignments, and logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, notes, priority, status, start, end, tz string
	var resources []string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("notes") {
				opts.Notes = &notes
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("tz") {
				opts.Timezone = &tz
			}
			if start != "" {
				t, err := parseTimeFlag("start", start)
				if err != nil {
					return err
				}
				opts.Start = &t
			}
			if end != "" {
				t, err := parseTimeFlag("end", end)
				if err != nil {
					return err
				}
				opts.End = &t
			}
			if cmd.Flags().Changed("resource") {
				taskResources, err := parseResourceFlag(resources)
				if err != nil {
					return err
				}
				opts.Resources = &taskResources
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high|critical")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&start, "start", "", "schedule start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "schedule end (RFC3339)")
	cmd.Flags().StringVar(&tz, "tz", "", "timezone")
	cmd.Flags().StringArrayVar(&resources, "resource", nil, "replace planned resources, id[:relationship[:quantity]] (repeatable)")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <task-id>",
		Short: "Mark a task done (writes time and resource logs, releases bookings)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			done := "done"
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
					ID:      args[0],
					Status:  &done,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its bookings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTask(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func bookingCmd() *cobra.Command {
	booking := &cobra.Command{Use: "booking", Short: "Inspect the booking ledger"}
	booking.AddCommand(bookingListCmd())
	booking.AddCommand(bookingCheckCmd())
	return booking
}

func bookingListCmd() *cobra.Command {
	var taskID, resourceID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				bookings, err := e.ListBookings(ctx, repo.BookingFilters{
					OrgID:      e.Config.Organization.ID,
					TaskID:     taskID,
					ResourceID: resourceID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bookings)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Resource", "Task", "Start", "End", "Status"})
				for _, b := range bookings {
					tw.AppendRow(table.Row{b.ID, b.ResourceID, b.TaskID,
						b.StartTime.Format(time.RFC3339), b.EndTime.Format(time.RFC3339), b.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id filter")
	cmd.Flags().StringVar(&resourceID, "resource", "", "resource id filter")
	return cmd
}

func bookingCheckCmd() *cobra.Command {
	var start, end string
	var resources []string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe resources for conflicts in a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			startT, err := parseTimeFlag("start", start)
			if err != nil {
				return err
			}
			endT, err := parseTimeFlag("end", end)
			if err != nil {
				return err
			}
			if startT.IsZero() || endT.IsZero() {
				return fmt.Errorf("--start and --end are required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				conflicts, err := e.FindConflicts(ctx, e.Config.Organization.ID, resources, startT, endT, "")
				if err != nil {
					return err
				}
				if len(conflicts) == 0 {
					fmt.Println("available")
					return nil
				}
				return printJSONOrTable(conflicts)
			})
		},
	}
	cmd.Flags().StringArrayVar(&resources, "resource", nil, "resource id (repeatable)")
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC3339)")
	return cmd
}

func reportCmd() *cobra.Command {
	report := &cobra.Command{Use: "report", Short: "Reports"}
	report.AddCommand(reportCompletedCmd())
	return report
}

func reportCompletedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completed",
		Short: "Completed tasks with logged actuals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.CompletedReport(ctx, e.Config.Organization.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "End", "Time logs (min)", "Resource logs"})
				for _, t := range tasks {
					minutes := 0
					for _, l := range t.TimeLogs {
						minutes += l.DurationMinutes
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Schedule.End.Format(time.RFC3339), minutes, len(t.ResourceLogs)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Organization.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default("default-org")
			}
			r := repo.Repo{DB: conn}
			if _, err := app.ResolveOrg(cmd.Context(), cfg, viper.GetString("actor-id"), r); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:               os.Getenv("BOOKLINE_JWT_SECRET"),
				AllowLegacyActorHeaders: viper.GetBool("allow-legacy-actor-headers"),
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeaders {
				return fmt.Errorf("BOOKLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Bookline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().Bool("allow-legacy-actor-headers", false, "accept X-Actor-Id/X-Org-Id without a token (dev only)")
	_ = viper.BindPFlag("allow-legacy-actor-headers", cmd.Flags().Lookup("allow-legacy-actor-headers"))
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default("default-org")
	}
	r := repo.Repo{DB: conn}
	if _, err := app.ResolveOrg(ctx, cfg, viper.GetString("actor-id"), r); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
