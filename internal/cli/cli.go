package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	internal_http "github.com/GlyderLabs/api/internal/http"
	"github.com/GlyderLabs/api/internal/log"
	internal_storage "github.com/GlyderLabs/api/internal/storage"
	"github.com/GlyderLabs/api/pkg/dispatch"
	"github.com/GlyderLabs/api/pkg/models"
	"github.com/GlyderLabs/api/pkg/service"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the task orchestration server",
		Run: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.GetLogger().Debugf("No .env file found: %v", err)
			}
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			port, err := cmd.Flags().GetString("port")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving port flag: %v", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()

			logger := log.GetLogger()
			tasks := service.NewTaskService(store, logger)

			// Wiring loop: the runner needs the orchestrator, the orchestrator
			// needs the scheduler, the scheduler needs the engine.
			var runner *dispatch.Runner
			engine := dispatch.NewEngine(func(ctx context.Context, item dispatch.WorkItem) (string, error) {
				return runner.Execute(ctx, item)
			}, logger)
			scheduler := service.NewScheduler(engine, tasks, logger)
			orc := service.NewOrchestrator(scheduler, tasks, store, logger)
			runner = dispatch.NewRunner(tasks, orc, echoResponder, logger)

			// A gateway that cannot reach its dispatch capability at startup
			// halts the process instead of serving degraded.
			if err := scheduler.Init(cmd.Context()); err != nil {
				logger.Errorf("Failed to initialize scheduler: %v", err)
				os.Exit(1)
			}

			srv := internal_http.NewServer(orc, tasks)
			if err := srv.Start(port); err != nil {
				logger.Errorf("Server stopped: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "HTTP port to listen on")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's tasks, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, _ := cmd.Flags().GetString("db")
			userID, _ := cmd.Flags().GetString("user")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			after, _ := cmd.Flags().GetString("after")
			if userID == "" {
				fmt.Fprintln(os.Stderr, "Error: --user is required")
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			svc := service.NewTaskService(store, log.GetLogger())
			tasks, err := svc.GetUserTasks(userID, pageSize, after)
			if err != nil {
				log.GetLogger().Errorf("Failed to list tasks: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list tasks: %v\n", err)
				os.Exit(1)
			}
			if len(tasks) == 0 {
				fmt.Fprintf(os.Stdout, "No tasks found.\n")
				return
			}
			for _, t := range tasks {
				fmt.Fprintf(os.Stdout, "- ID: %s, Status: %s, Scheduled: %s, Description: %s\n",
					t.ID, t.Status, t.ScheduledTime.Format(time.RFC3339), t.Description)
			}
		},
	}
	listCmd.Flags().String("user", "", "User id to list tasks for")
	listCmd.Flags().Int("page-size", 10, "Page size")
	listCmd.Flags().String("after", "", "Task id to paginate after")

	getCmd := &cobra.Command{
		Use:   "get [taskId]",
		Short: "Show a task by id",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, _ := cmd.Flags().GetString("db")
			store := initStore(dbConnStr)
			defer store.Close()
			svc := service.NewTaskService(store, log.GetLogger())
			task, err := svc.GetTask(args[0])
			if err != nil {
				log.GetLogger().Errorf("Failed to get task: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to get task: %v\n", err)
				os.Exit(1)
			}
			out, _ := json.MarshalIndent(task, "", "  ")
			fmt.Fprintln(os.Stdout, string(out))
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Show a user's task summary",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, _ := cmd.Flags().GetString("db")
			userID, _ := cmd.Flags().GetString("user")
			agentID, _ := cmd.Flags().GetString("agent")
			if userID == "" {
				fmt.Fprintln(os.Stderr, "Error: --user is required")
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			svc := service.NewTaskService(store, log.GetLogger())
			var out []byte
			if agentID != "" {
				summary, err := svc.GetUserTaskSummaryByAgent(userID, agentID)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: failed to get summary: %v\n", err)
					os.Exit(1)
				}
				out, _ = json.MarshalIndent(summary, "", "  ")
			} else {
				summary, err := svc.GetUserTaskSummary(userID)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: failed to get summary: %v\n", err)
					os.Exit(1)
				}
				out, _ = json.MarshalIndent(summary, "", "  ")
			}
			fmt.Fprintln(os.Stdout, string(out))
		},
	}
	summaryCmd.Flags().String("user", "", "User id to summarize")
	summaryCmd.Flags().String("agent", "", "Restrict the summary to one agent team")

	seedTeamCmd := &cobra.Command{
		Use:   "seed-team [file]",
		Short: "Create or update an agent team from a JSON file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, _ := cmd.Flags().GetString("db")
			raw, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read %s: %v\n", args[0], err)
				os.Exit(1)
			}
			var team models.AgentTeam
			if err := json.Unmarshal(raw, &team); err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid team file: %v\n", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			saved, err := store.SaveAgentTeam(team)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to save team: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Saved agent team '%s' with %d sub-teams\n", saved.ID, len(saved.Teams))
		},
	}

	rootCmd.PersistentFlags().String("db", "", "Database connection string")
	rootCmd.AddCommand(serveCmd, listCmd, getCmd, summaryCmd, seedTeamCmd)
}

// echoResponder is the built-in stand-in for a real agent backend: it
// answers with the member roster that would have handled the request.
func echoResponder(ctx context.Context, query models.TaskQuery) (string, error) {
	var members []string
	for _, team := range query.Teams {
		members = append(members, team.Members...)
	}
	if len(members) == 0 {
		return fmt.Sprintf("No agents available for: %s", query.TaskMessage), nil
	}
	return fmt.Sprintf("Handled by %s: %s", strings.Join(members, ", "), query.TaskMessage), nil
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
