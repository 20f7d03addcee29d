package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/linkedin-autodm/internal/api"
	"github.com/linkedin-autodm/internal/app"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/internal/scheduler"
	"github.com/linkedin-autodm/internal/storage"
)

var (
	cfgFile string
	cfg     *config.Config
	a       *app.App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "autodm",
		Short: "Operator tool for LinkedIn comment-to-DM automations",
		Long: `Inspect automations, run scans by hand, drain deferred messages and
check quota usage without going through the API.`,
		PersistentPreRunE:  initializeApp,
		PersistentPostRunE: closeApp,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	rootCmd.AddCommand(automationsCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(commentsCmd())
	rootCmd.AddCommand(deliveriesCmd())
	rootCmd.AddCommand(quotaCmd())
	rootCmd.AddCommand(drainCmd())
	rootCmd.AddCommand(validatePostCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err = app.New(cmd.Context(), cfg, app.NewLogger(cfg))
	return err
}

func closeApp(cmd *cobra.Command, args []string) error {
	if a != nil {
		a.Close()
	}
	return nil
}

// ============ AUTOMATION COMMANDS ============

func automationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automations",
		Short: "Automation commands",
	}

	cmd.AddCommand(automationsListCmd())
	cmd.AddCommand(automationsShowCmd())
	cmd.AddCommand(automationsStatusCmd())
	return cmd
}

func automationsListCmd() *cobra.Command {
	var userID, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List automations",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.DefaultAutomationFilter(userID)
			filter.Limit = limit
			if status != "" {
				s := models.AutomationStatus(status)
				filter.Status = &s
			}

			list, err := a.Repo.ListAutomations(cmd.Context(), filter)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Automations (%d) ===\n\n", len(list))
			for _, au := range list {
				fmt.Printf("[%s] %s | %s\n", au.ID, au.Name, au.Status)
				fmt.Printf("    User: %s\n", au.UserID)
				fmt.Printf("    Post: %s\n", au.PostURL)
				if kw := au.PrimaryKeyword(); kw != "" {
					fmt.Printf("    Keyword: %s\n", kw)
				}
				if au.LastScannedAt != nil {
					fmt.Printf("    Last scan: %s (%s ago)\n", au.LastScannedAt.Format(time.RFC1123), formatDuration(time.Since(*au.LastScannedAt)))
				} else {
					fmt.Printf("    Last scan: never\n")
				}
				if au.LastError != "" {
					fmt.Printf("    Error: %s\n", au.LastError)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Only automations owned by this user")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (active, paused, error, processing_comments)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum automations to show")
	return cmd
}

func automationsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [automation-id]",
		Short: "Show an automation and its ledger counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			au, err := a.Repo.GetAutomation(ctx, args[0])
			if err != nil {
				return err
			}
			st, err := a.Service.Stats(ctx, au.UserID, au.ID)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== %s ===\n", au.Name)
			fmt.Printf("ID:               %s\n", au.ID)
			fmt.Printf("Status:           %s\n", au.Status)
			fmt.Printf("Post:             %s\n", au.PostURL)
			fmt.Printf("Keyword:          %s\n", st.Keyword)
			fmt.Printf("Criteria:         liked=%t followed=%t connected=%t commented=%t\n",
				au.EngagementCriteria.HasLiked, au.EngagementCriteria.HasFollowed,
				au.EngagementCriteria.HasConnected, au.EngagementCriteria.HasCommented)
			fmt.Printf("Reply templates:  %t\n", au.HasReplyTemplates())
			if au.HasAttachment() {
				fmt.Printf("Attachment:       %s (%s)\n", au.ResourceURL, au.ResourceType)
			}
			fmt.Printf("Total comments:   %d\n", st.TotalComments)
			fmt.Printf("Matching:         %d\n", st.MatchingComments)
			fmt.Printf("Messages sent:    %d\n", st.MessagesSent)
			return nil
		},
	}
}

func automationsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [automation-id] [active|paused]",
		Short: "Pause or resume an automation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			au, err := a.Repo.GetAutomation(ctx, args[0])
			if err != nil {
				return err
			}
			updated, err := a.Service.SetStatus(ctx, au.UserID, au.ID, models.AutomationStatus(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("Automation %s is now %s\n", updated.ID, updated.Status)
			return nil
		},
	}
}

// ============ MONITOR COMMANDS ============

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Comment scanning commands",
	}

	cmd.AddCommand(monitorRunCmd())
	cmd.AddCommand(monitorRunAllCmd())
	return cmd
}

func monitorRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [automation-id]",
		Short: "Scan one automation now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.Monitor.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Scan Results ===\n")
			fmt.Printf("Total Comments:     %d\n", result.TotalComments)
			fmt.Printf("Processed Comments: %d\n", result.ProcessedComments)
			fmt.Printf("Matched Criteria:   %d\n", result.MatchedCriteria)
			fmt.Printf("Messages Sent:      %d\n", result.MessagesSent)
			fmt.Printf("Replies Sent:       %d\n", result.RepliesSent)
			fmt.Printf("Scheduled:          %d\n", result.Scheduled)
			fmt.Printf("Failed:             %d\n", result.Failed)
			fmt.Printf("Duration:           %s\n", result.Duration)
			return nil
		},
	}
}

func monitorRunAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-all",
		Short: "Scan every active automation once, as the hourly job does",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched := scheduler.New(cfg.Scheduler, a.Schedule, a.Repo, a.Monitor, a.Log)
			result, err := sched.RunAll(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Batch Results ===\n")
			fmt.Printf("Automations:   %d\n", result.Automations)
			fmt.Printf("Succeeded:     %d\n", result.Succeeded)
			fmt.Printf("Skipped:       %d\n", result.Skipped)
			fmt.Printf("Failed:        %d\n", result.Failed)
			fmt.Printf("Messages Sent: %d\n", result.MessagesSent)
			fmt.Printf("Replies Sent:  %d\n", result.RepliesSent)
			fmt.Printf("Scheduled:     %d\n", result.Scheduled)
			fmt.Printf("Duration:      %s\n", result.Duration)
			return nil
		},
	}
}

// ============ LEDGER COMMANDS ============

func commentsCmd() *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "comments [automation-id]",
		Short: "List processed comments for an automation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			au, err := a.Repo.GetAutomation(ctx, args[0])
			if err != nil {
				return err
			}
			view, err := a.Service.Comments(ctx, au.UserID, au.ID, page, limit)
			if err != nil {
				return err
			}

			p := view.Pagination
			fmt.Printf("\n=== Comments (page %d/%d, %d total) ===\n\n", p.CurrentPage, p.TotalPages, p.TotalComments)
			for _, c := range view.Comments {
				fmt.Printf("[%s] %s | %s | %s\n", c.CommentID, c.CommenterName, c.ConnectionDegree, c.ProcessingStatus)
				fmt.Printf("    Comment: %s\n", truncateStr(c.CommentText, 100))
				if c.DMStatus != models.DMStatusNone {
					fmt.Printf("    DM: %s\n", c.DMStatus)
				}
				if c.ReplySent {
					fmt.Printf("    Replied publicly\n")
				}
				if c.ErrorMessage != "" {
					fmt.Printf("    Error: %s\n", c.ErrorMessage)
				}
				fmt.Println()
			}
			fmt.Printf("Connected: %d | DMs sent: %d\n", view.TotalStats.TotalConnected, view.TotalStats.TotalDMsSent)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "Comments per page")
	return cmd
}

func deliveriesCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "deliveries [automation-id]",
		Short: "List message and reply deliveries for an automation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.DeliveryFilter{AutomationID: args[0], Limit: limit}
			if status != "" {
				s := models.DeliveryStatus(status)
				filter.Status = &s
			}

			list, err := a.Repo.ListDeliveries(cmd.Context(), filter)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Deliveries (%d) ===\n\n", len(list))
			for _, d := range list {
				fmt.Printf("[%s] %s to %s | %s (attempt %d)\n", d.ID, d.Kind, d.RecipientName, d.DeliveryStatus, d.Attempts)
				fmt.Printf("    %s\n", truncateStr(d.Content, 100))
				if d.SentAt != nil {
					fmt.Printf("    Sent: %s\n", d.SentAt.Format(time.RFC1123))
				}
				if d.ErrorMessage != "" {
					fmt.Printf("    Error: %s\n", d.ErrorMessage)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, sent, failed, retry)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum deliveries to show")
	return cmd
}

// ============ QUOTA COMMANDS ============

func quotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Daily quota commands",
	}

	cmd.AddCommand(quotaShowCmd())
	return cmd
}

func quotaShowCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show today's message and reply usage for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.Service.DailyStats(cmd.Context(), userID)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Quota for %s ===\n", userID)
			fmt.Printf("Messages: %d sent, %d scheduled, %d of %d available\n",
				st.Messages.SentToday, st.Messages.ScheduledToday, st.Messages.AvailableToday, st.Messages.DailyLimit)
			fmt.Printf("Replies:  %d sent, %d scheduled, %d of %d available\n",
				st.Replies.SentToday, st.Replies.ScheduledToday, st.Replies.AvailableToday, st.Replies.DailyLimit)
			fmt.Printf("Next reset: %s (in %s)\n", st.NextResetTime.Format(time.RFC1123), formatDuration(time.Until(st.NextResetTime)))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Send deferred messages and replies that are due",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.Monitor.DrainScheduled(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Drain Results ===\n")
			fmt.Printf("Due:      %d\n", result.Due)
			fmt.Printf("Claimed:  %d\n", result.Claimed)
			fmt.Printf("Executed: %d\n", result.Executed)
			fmt.Printf("Deferred: %d\n", result.Deferred)
			fmt.Printf("Failed:   %d\n", result.Failed)
			fmt.Printf("Duration: %s\n", result.Duration)
			return nil
		},
	}
}

// ============ GATEWAY COMMANDS ============

func validatePostCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "validate-post [post-url]",
		Short: "Check that a LinkedIn post URL parses and is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := a.Service.ValidatePost(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Post ID:   %s\n", ref.ID)
			fmt.Printf("URN:       %s\n", ref.URN)
			fmt.Printf("Embed URL: %s\n", ref.EmbedURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User whose session resolves the post (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := api.NewAuthenticator(cfg.Auth).Issue(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id placed in the token subject (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// Helper function to truncate strings
func truncateStr(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// Helper function to format duration nicely
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}
