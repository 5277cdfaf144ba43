// Package cli implements pushcallctl, the operator command line for the
// agent and the demo relay.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowpbx/pushcall/internal/call"
	"github.com/flowpbx/pushcall/internal/history"
	"github.com/flowpbx/pushcall/internal/inbound"
	"github.com/flowpbx/pushcall/internal/notify"
	"github.com/flowpbx/pushcall/internal/relay"
)

const timeLayout = "2006-01-02 15:04:05"

// session holds the clients built from the resolved configuration.
type session struct {
	v     *viper.Viper
	agent *AgentClient
	relay *relay.Client
}

// NewRootCommand builds the pushcallctl command tree. Settings come from
// flags, then PUSHCALLCTL_* environment variables, then the config file.
func NewRootCommand() *cobra.Command {
	s := &session{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "pushcallctl",
		Short: "Drive a pushcall agent and relay",
		Long: `pushcallctl talks to a running pushcall agent and demo relay.

Simulate pushes, tap call prompts and notification actions, inspect the
notification history, and send real pushes through the relay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.init(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default $HOME/.pushcallctl.yaml)")
	pf.String("agent", "http://localhost:8090", "Agent base URL")
	pf.String("relay", "http://localhost:3000", "Relay base URL")
	pf.Duration("timeout", 10*time.Second, "HTTP request timeout")
	pf.Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		s.pushCommand(),
		s.callsCommand(),
		s.actionCommand(),
		s.notificationsCommand(),
		s.historyCommand(),
		s.appCommand(),
		s.tokenCommand(),
		s.relayCommand(),
	)
	return rootCmd
}

func (s *session) init(cmd *cobra.Command) error {
	v := s.v
	v.SetEnvPrefix("PUSHCALLCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, ".pushcallctl.yaml"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	if v.GetBool("no-color") {
		color.NoColor = true
	}

	timeout := v.GetDuration("timeout")
	s.agent = NewAgentClient(strings.TrimRight(v.GetString("agent"), "/"), timeout)
	s.relay = relay.NewClient(strings.TrimRight(v.GetString("relay"), "/"), timeout)
	return nil
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func success(out io.Writer, format string, a ...any) {
	color.New(color.FgGreen).Fprintf(out, "✓ "+format+"\n", a...)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func colorAction(a call.Action) string {
	switch a {
	case call.Accepted:
		return color.GreenString(string(a))
	case call.Rejected:
		return color.RedString(string(a))
	case call.TimedOut:
		return color.YellowString(string(a))
	default:
		return string(a)
	}
}

// printOutcome prints a resolved outcome. A 409 from the agent still
// carries the call's canonical outcome, which is printed before the error.
func printOutcome(out io.Writer, o call.Outcome, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && len(apiErr.Data) > 0 {
		var canonical call.Outcome
		if jsonErr := json.Unmarshal(apiErr.Data, &canonical); jsonErr == nil {
			color.New(color.FgYellow).Fprintf(out, "Call %s already resolved: %s by %s\n",
				canonical.CallID, canonical.Action, canonical.ResolvedBy)
		}
		return err
	}
	if err != nil {
		return err
	}
	success(out, "Call %s %s (via %s)", o.CallID, colorAction(o.Action), o.ResolvedBy)
	return nil
}

func (s *session) pushCommand() *cobra.Command {
	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Deliver a simulated push to the agent",
	}

	callCmd := &cobra.Command{
		Use:   "call <caller-name>",
		Short: "Push an incoming call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			typ, _ := cmd.Flags().GetString("type")
			payload := map[string]string{
				inbound.KeyType:       "call",
				inbound.KeyCallerName: args[0],
				inbound.KeyCallType:   typ,
			}
			if id != "" {
				payload[inbound.KeyCallID] = id
			}
			res, err := s.agent.Push(cmd.Context(), payload)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Duplicate {
				color.New(color.FgYellow).Fprintf(out, "Call %s is a duplicate, ignored\n", res.CallID)
				return nil
			}
			success(out, "Call %s ringing", res.CallID)
			if res.Deadline != nil {
				fmt.Fprintf(out, "Times out at %s\n", formatTime(*res.Deadline))
			}
			return nil
		},
	}
	callCmd.Flags().String("id", "", "Call id (synthesized by the agent when empty)")
	callCmd.Flags().StringP("type", "t", "voice", "Call type: voice, video")

	msgCmd := &cobra.Command{
		Use:   "message <title> <body>",
		Short: "Push a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, _ := cmd.Flags().GetString("sender")
			payload := map[string]string{
				inbound.KeyType:  "message",
				inbound.KeyTitle: args[0],
				inbound.KeyBody:  args[1],
			}
			if sender != "" {
				payload[inbound.KeySender] = sender
			}
			res, err := s.agent.Push(cmd.Context(), payload)
			if err != nil {
				return err
			}
			if res.Record != nil {
				success(cmd.OutOrStdout(), "Message stored as %s", res.Record.ID)
			} else {
				success(cmd.OutOrStdout(), "Message posted")
			}
			return nil
		},
	}
	msgCmd.Flags().StringP("sender", "s", "", "Sender name")

	pushCmd.AddCommand(callCmd, msgCmd)
	return pushCmd
}

func (s *session) callsCommand() *cobra.Command {
	callsCmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect and answer calls",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending and recently resolved calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := s.agent.Calls(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No calls found")
				return nil
			}

			table := newTable(out, []string{"Call ID", "Caller", "Type", "Received", "State", "Outcome", "Resolved By"})
			pending := 0
			for _, sn := range snaps {
				state := color.YellowString(sn.State)
				outcome, by := "-", "-"
				if sn.Outcome != nil {
					state = sn.State
					outcome = colorAction(sn.Outcome.Action)
					by = string(sn.Outcome.ResolvedBy)
				} else {
					pending++
				}
				table.Append([]string{
					sn.Event.ID,
					sn.Event.CallerName,
					string(sn.Event.Type),
					formatTime(sn.Event.ReceivedAt),
					state,
					outcome,
					by,
				})
			}
			table.Render()
			fmt.Fprintf(out, "\nTotal: %d calls (%d pending)\n", len(snaps), pending)
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "show <call-id>",
		Short: "Show call details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, _ := cmd.Flags().GetDuration("wait")
			var (
				sn  call.Snapshot
				err error
			)
			if wait > 0 {
				sn, err = s.agent.WaitCall(cmd.Context(), args[0], wait)
			} else {
				sn, err = s.agent.Call(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Call ID:  %s\n", sn.Event.ID)
			fmt.Fprintf(out, "Caller:   %s\n", sn.Event.CallerName)
			fmt.Fprintf(out, "Type:     %s\n", sn.Event.Type)
			fmt.Fprintf(out, "Received: %s\n", formatTime(sn.Event.ReceivedAt))
			fmt.Fprintf(out, "State:    %s\n", sn.State)
			if o := sn.Outcome; o != nil {
				fmt.Fprintf(out, "Outcome:  %s by %s at %s\n", colorAction(o.Action), o.ResolvedBy, formatTime(o.ResolvedAt))
			}
			if len(sn.Event.Extra) > 0 {
				fmt.Fprintln(out, "Extra:")
				keys := make([]string, 0, len(sn.Event.Extra))
				for k := range sn.Event.Extra {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "  %s=%s\n", k, sn.Event.Extra[k])
				}
			}
			return nil
		},
	}

	getCmd.Flags().Duration("wait", 0, "Wait up to this long for a pending call to resolve")

	tap := func(use, short string, action call.Action) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <call-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				o, err := s.agent.Tap(cmd.Context(), args[0], action)
				return printOutcome(cmd.OutOrStdout(), o, err)
			},
		}
	}

	callsCmd.AddCommand(
		listCmd,
		getCmd,
		tap("accept", "Tap Accept on the call prompt", call.Accepted),
		tap("reject", "Tap Reject on the call prompt", call.Rejected),
	)
	return callsCmd
}

func (s *session) actionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action <accept|reject> <call-id>",
		Short: "Deliver a notification action intent to the action receiver",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var action string
			switch strings.ToLower(args[0]) {
			case "accept":
				action = notify.ActionAccept
			case "reject":
				action = notify.ActionReject
			default:
				action = args[0]
			}
			caller, _ := cmd.Flags().GetString("caller")
			typ, _ := cmd.Flags().GetString("type")
			o, err := s.agent.Action(cmd.Context(), call.ActionIntent{
				Action:     action,
				CallID:     args[1],
				CallerName: caller,
				CallType:   typ,
			})
			return printOutcome(cmd.OutOrStdout(), o, err)
		},
	}
	cmd.Flags().StringP("caller", "c", "", "Caller name carried in the intent")
	cmd.Flags().StringP("type", "t", "", "Call type carried in the intent (voice, video)")
	return cmd
}

func (s *session) notificationsCommand() *cobra.Command {
	notifCmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "Inspect the notification tray",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := s.agent.Notifications(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(active) == 0 {
				fmt.Fprintln(out, "No active notifications")
				return nil
			}

			table := newTable(out, []string{"ID", "Channel", "Title", "Body", "Actions", "Posted"})
			for _, n := range active {
				actions := make([]string, 0, len(n.Actions))
				for _, a := range n.Actions {
					actions = append(actions, a.ID)
				}
				title := n.Title
				if n.FullScreen {
					title = color.New(color.Bold).Sprint(title)
				}
				table.Append([]string{
					strconv.FormatInt(int64(n.ID), 10),
					string(n.Channel),
					title,
					n.Body,
					strings.Join(actions, ","),
					formatTime(n.PostedAt),
				})
			}
			table.Render()
			fmt.Fprintf(out, "\nTotal: %d notifications\n", len(active))
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.agent.ClearNotifications(cmd.Context()); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Notifications cleared")
			return nil
		},
	}

	tapCmd := &cobra.Command{
		Use:   "tap [--] <notification-id> <action-id>",
		Short: "Tap an action button on a notification (use -- before negative ids)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid notification id %q", args[0])
			}
			o, err := s.agent.TapNotification(cmd.Context(), int32(id), args[1])
			return printOutcome(cmd.OutOrStdout(), o, err)
		},
	}

	notifCmd.AddCommand(listCmd, clearCmd, tapCmd)
	return notifCmd
}

func (s *session) historyCommand() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the notification history",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List history records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			callID, _ := cmd.Flags().GetString("call-id")
			records, err := s.agent.History(cmd.Context(), limit, callID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No history records")
				return nil
			}

			table := newTable(out, []string{"Time", "Kind", "Title", "Body", "Call ID"})
			for _, rec := range records {
				kind := string(rec.Kind)
				if rec.Kind == history.KindCall {
					kind = color.CyanString(kind)
				}
				callID := rec.CallID
				if callID == "" {
					callID = "-"
				}
				table.Append([]string{
					formatTime(rec.Timestamp),
					kind,
					rec.Title,
					rec.Body,
					callID,
				})
			}
			table.Render()
			fmt.Fprintf(out, "\nTotal: %d records\n", len(records))
			return nil
		},
	}
	listCmd.Flags().IntP("limit", "l", 20, "Number of records to show")
	listCmd.Flags().String("call-id", "", "Only records for this call")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every history record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.agent.ClearHistory(cmd.Context()); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "History cleared")
			return nil
		},
	}

	historyCmd.AddCommand(listCmd, clearCmd)
	return historyCmd
}

func (s *session) appCommand() *cobra.Command {
	appCmd := &cobra.Command{
		Use:   "app",
		Short: "Control the app's foreground state",
	}

	fgCmd := &cobra.Command{
		Use:       "foreground <on|off>",
		Short:     "Mark the app visible or hidden",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var fg bool
			switch strings.ToLower(args[0]) {
			case "on", "true", "1":
				fg = true
			case "off", "false", "0":
			default:
				return fmt.Errorf("invalid foreground state %q, want on or off", args[0])
			}
			if err := s.agent.SetForeground(cmd.Context(), fg); err != nil {
				return err
			}
			state := "background"
			if fg {
				state = "foreground"
			}
			success(cmd.OutOrStdout(), "App in %s", state)
			return nil
		},
	}

	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Consume the intent the app was last launched with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := s.agent.TakeLaunch(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if l == nil {
				fmt.Fprintln(out, "No pending launch")
				return nil
			}
			fmt.Fprintf(out, "Launched: %s\n", formatTime(l.LaunchedAt))
			fmt.Fprintf(out, "Action:   %s\n", colorAction(l.Intent.Action))
			fmt.Fprintf(out, "Call ID:  %s\n", l.Intent.CallID)
			fmt.Fprintf(out, "Caller:   %s\n", l.Intent.CallerName)
			fmt.Fprintf(out, "Type:     %s\n", l.Intent.CallType)
			return nil
		},
	}

	appCmd.AddCommand(fgCmd, launchCmd)
	return appCmd
}

func (s *session) tokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the device push token",
	}

	setCmd := &cobra.Command{
		Use:   "set <token>",
		Short: "Register the device push token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.agent.SetToken(cmd.Context(), args[0]); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Token registered")
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the registered device push token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := s.agent.Token(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	tokenCmd.AddCommand(setCmd, getCmd)
	return tokenCmd
}

// deviceToken returns the --token flag, falling back to the token the
// agent has registered.
func (s *session) deviceToken(ctx context.Context, cmd *cobra.Command) (string, error) {
	token, _ := cmd.Flags().GetString("token")
	if token != "" {
		return token, nil
	}
	token, err := s.agent.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("no --token given and the agent has none: %w", err)
	}
	return token, nil
}

func (s *session) relayCommand() *cobra.Command {
	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Send real pushes through the demo relay",
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Show relay health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := s.relay.Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			status := color.GreenString(h.Status)
			if h.Status != "healthy" {
				status = color.RedString(h.Status)
			}
			fmt.Fprintf(out, "Status:   %s\n", status)
			fmt.Fprintf(out, "Time:     %s\n", formatTime(h.Timestamp))
			fmt.Fprintf(out, "Firebase: %s\n", enabled(h.Firebase))
			fmt.Fprintf(out, "APNs:     %s\n", enabled(h.APNs))
			return nil
		},
	}

	sendCallCmd := &cobra.Command{
		Use:   "send-call <caller-name>",
		Short: "Send an incoming call push",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			token, err := s.deviceToken(ctx, cmd)
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")
			typ, _ := cmd.Flags().GetString("type")
			platform, _ := cmd.Flags().GetString("platform")
			resp, err := s.relay.SendCall(ctx, relay.CallRequest{
				Token:      token,
				CallerName: args[0],
				CallType:   typ,
				CallID:     id,
				Platform:   platform,
			})
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Call %s sent (message id %s)", resp.CallID, resp.MessageID)
			return nil
		},
	}
	sendCallCmd.Flags().String("token", "", "Device push token (default: the agent's registered token)")
	sendCallCmd.Flags().String("id", "", "Call id (synthesized by the relay when empty)")
	sendCallCmd.Flags().StringP("type", "t", "voice", "Call type: voice, video")
	sendCallCmd.Flags().StringP("platform", "p", relay.PlatformFCM, "Delivery platform: fcm, apns")

	sendMsgCmd := &cobra.Command{
		Use:   "send-message <sender> <message>",
		Short: "Send a message push",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			token, err := s.deviceToken(ctx, cmd)
			if err != nil {
				return err
			}
			platform, _ := cmd.Flags().GetString("platform")
			resp, err := s.relay.SendMessage(ctx, relay.MessageRequest{
				Token:    token,
				Sender:   args[0],
				Message:  args[1],
				Platform: platform,
			})
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Message sent (message id %s)", resp.MessageID)
			return nil
		},
	}
	sendMsgCmd.Flags().String("token", "", "Device push token (default: the agent's registered token)")
	sendMsgCmd.Flags().StringP("platform", "p", relay.PlatformFCM, "Delivery platform: fcm, apns")

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent delivery attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := s.relay.PushLog(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No delivery attempts")
				return nil
			}

			table := newTable(out, []string{"Time", "Platform", "Kind", "Call ID", "Token", "Result"})
			failed := 0
			for _, e := range entries {
				result := color.GreenString("sent")
				if !e.Success {
					result = color.RedString("failed: " + e.Error)
					failed++
				}
				callID := e.CallID
				if callID == "" {
					callID = "-"
				}
				table.Append([]string{
					formatTime(e.Timestamp),
					e.Platform,
					e.Kind,
					callID,
					e.TokenPrefix,
					result,
				})
			}
			table.Render()
			fmt.Fprintf(out, "\nTotal: %d attempts (%d failed)\n", len(entries), failed)
			return nil
		},
	}
	logCmd.Flags().IntP("limit", "l", 20, "Number of attempts to show")

	relayCmd.AddCommand(healthCmd, sendCallCmd, sendMsgCmd, logCmd)
	return relayCmd
}

func enabled(b bool) string {
	if b {
		return color.GreenString("configured")
	}
	return color.RedString("not configured")
}
