package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	types "github.com/sebas/softphone/api/types/v1"
	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/ui/client"
)

const requestTimeout = 15 * time.Second

// apiClient resolves the API address from --api, then the config file.
func apiClient() (*client.Client, error) {
	addr := apiAddr
	if addr == "" {
		cfg, err := config.NewLoader(cfgFile).Load()
		if err != nil {
			return nil, err
		}
		addr = cfg.API.HTTPAddr
	}
	if addr == "" {
		return nil, fmt.Errorf("no API address: set --api or api.http_addr")
	}
	return client.NewClient(addr), nil
}

func withClient(fn func(ctx context.Context, c *client.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		return fn(ctx, c)
	}
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection, registration and session state",
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		}),
	}
}

func printStatus(st *types.StatusResponse) {
	if st.Ready {
		color.Green("✓ Ready")
	} else {
		color.Yellow("✗ Not ready")
	}

	reg := st.Registration
	expiry := "-"
	if reg.State == "Registered" {
		expiry = fmt.Sprintf("%ds", reg.SecondsUntilExpiry)
		if reg.ExpiringSoon {
			expiry += " (refresh due)"
		}
	}

	table := newTable("Field", "Value")
	table.Append([]string{"Server", st.Server})
	table.Append([]string{"AOR", st.AOR})
	table.Append([]string{"Connection", st.Connection})
	table.Append([]string{"Registration", reg.State})
	table.Append([]string{"Expires in", expiry})
	table.Append([]string{"Retries", strconv.Itoa(reg.RetryCount)})
	table.Append([]string{"Sessions", fmt.Sprintf("%d/%d (%d inbound)", st.Sessions.Active, st.Sessions.Limit, st.Sessions.Inbound)})
	table.Render()

	if st.LastError != "" {
		color.Red("Last error: %s", st.LastError)
	}
	if reg.LastError != "" && reg.LastError != st.LastError {
		color.Red("Registration error: %s", reg.LastError)
	}
}

func newSessionsCmd() *cobra.Command {
	var inbound bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live sessions",
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			list := c.Sessions
			if inbound {
				list = c.InboundSessions
			}
			sessions, err := list(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions")
				return nil
			}
			table := newTable("ID", "Direction", "State", "Remote", "Started", "Duration", "Flags")
			for _, s := range sessions {
				table.Append([]string{
					s.ID,
					s.Direction,
					s.State,
					remoteLabel(s.RemoteDisplayName, s.RemoteURI),
					shortTime(s.StartTime),
					formatSeconds(s.Duration),
					sessionFlags(s),
				})
			}
			table.Render()
			return nil
		}),
	}
	cmd.Flags().BoolVar(&inbound, "inbound", false, "show only the inbound queue")

	cmd.AddCommand(&cobra.Command{
		Use:   "end <id>",
		Short: "Hang up a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				rec, err := c.EndSession(ctx, args[0])
				if err != nil {
					return err
				}
				color.Green("✓ Session %s ended after %s", rec.ID, formatSeconds(rec.Duration))
				return nil
			})(cmd, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reject <id>",
		Short: "Decline an incoming call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				if err := c.RejectSession(ctx, args[0]); err != nil {
					return err
				}
				color.Green("✓ Session %s rejected", args[0])
				return nil
			})(cmd, args)
		},
	})
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		direction string
		missed    bool
		answered  bool
		search    string
		tags      []string
		sortBy    string
		desc      bool
		limit     int
		offset    int
	)

	query := func(cmd *cobra.Command, paged bool) url.Values {
		q := url.Values{}
		if direction != "" {
			q.Set("direction", direction)
		}
		if cmd.Flags().Changed("missed") {
			q.Set("missed", strconv.FormatBool(missed))
		}
		if cmd.Flags().Changed("answered") {
			q.Set("answered", strconv.FormatBool(answered))
		}
		if search != "" {
			q.Set("q", search)
		}
		for _, t := range tags {
			q.Add("tag", t)
		}
		if sortBy != "" {
			q.Set("sort", sortBy)
		}
		if desc {
			q.Set("order", "desc")
		}
		if !paged {
			return q
		}
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		if offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		}
		return q
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				resp, err := c.History(ctx, query(cmd, true))
				if err != nil {
					return err
				}
				printHistory(resp)
				return nil
			})(cmd, args)
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&direction, "direction", "", "inbound or outbound")
	fs.BoolVar(&missed, "missed", false, "only missed (or, with =false, not missed) calls")
	fs.BoolVar(&answered, "answered", false, "only answered (or, with =false, unanswered) calls")
	fs.StringVarP(&search, "search", "q", "", "substring of remote URI or name")
	fs.StringSliceVar(&tags, "tag", nil, "match any of these tags")
	fs.StringVar(&sortBy, "sort", "", "time, duration or remote")
	fs.BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one history record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				if err := c.DeleteHistory(ctx, args[0]); err != nil {
					return err
				}
				color.Green("✓ Record %s deleted", args[0])
				return nil
			})(cmd, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete history records matching the filter flags, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				n, err := c.ClearHistory(ctx, query(cmd, false))
				if err != nil {
					return err
				}
				color.Green("✓ Removed %d records", n)
				return nil
			})(cmd, args)
		},
	})
	return cmd
}

func printHistory(resp *types.HistoryResponse) {
	if len(resp.Records) == 0 {
		fmt.Println("No calls")
		return
	}
	table := newTable("ID", "Direction", "Remote", "Started", "Duration", "Result")
	for _, r := range resp.Records {
		result := r.Cause
		switch {
		case r.Missed:
			result = color.RedString("missed (%s)", r.Cause)
		case r.Answered:
			result = color.GreenString("answered")
		}
		table.Append([]string{
			r.ID,
			r.Direction,
			remoteLabel(r.RemoteDisplayName, r.RemoteURI),
			shortTime(r.StartTime),
			formatSeconds(r.Duration),
			result,
		})
	}
	table.Render()
	if resp.HasMore {
		fmt.Printf("Showing %d of %d (use --offset for more)\n", len(resp.Records), resp.TotalCount)
	}
}

func newControlCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: withClient(func(ctx context.Context, c *client.Client) error {
			var err error
			switch name {
			case "connect":
				err = c.Connect(ctx)
			case "disconnect":
				err = c.Disconnect(ctx)
			case "register":
				err = c.Register(ctx)
			case "unregister":
				err = c.Unregister(ctx)
			}
			if err != nil {
				return err
			}
			color.Green("✓ %s accepted", name)
			return nil
		}),
	}
}

func remoteLabel(name, uri string) string {
	if name == "" {
		return uri
	}
	return fmt.Sprintf("%s <%s>", name, uri)
}

func shortTime(rfc3339 string) string {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatSeconds(n int) string {
	return (time.Duration(n) * time.Second).String()
}

func sessionFlags(s types.Session) string {
	var flags string
	if s.OnHold {
		flags += "hold "
	}
	if s.Muted {
		flags += "muted "
	}
	if s.Video {
		flags += "video"
	}
	return flags
}
