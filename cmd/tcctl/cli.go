package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

const defaultListenAddr = "localhost:7471"

// RPCError marks a failure reaching or talking to tcd, distinct from an
// invalid-argument error, per §6's exit-code contract.
type RPCError struct {
	Op  string
	Err error
}

func (e *RPCError) Error() string { return fmt.Sprintf("tcctl: %s: %v", e.Op, e.Err) }
func (e *RPCError) Unwrap() error { return e.Err }

// CLI is the tcctl command tree, talking to tcd's admin HTTP surface
// (cmd/tcd's /v1/status and /v1/sessions/abort routes).
type CLI struct {
	addr   string
	client *http.Client
}

// NewCLI builds a CLI pointed at tcd's listen address. An empty addr
// falls back to defaultListenAddr.
func NewCLI(addr string) *CLI {
	if addr == "" {
		addr = defaultListenAddr
	}
	return &CLI{addr: addr, client: &http.Client{Timeout: 5 * time.Second}}
}

// GetRootCommand returns the tcctl root command.
func (c *CLI) GetRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tcctl",
		Short:         "Control CLI for the Transaction Coordinator daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.addr, "addr", c.addr, "tcd control listen address (host:port)")

	root.AddCommand(
		c.statusCommand(),
		c.showLockCommand(),
		c.abortSessionCommand(),
	)
	return root
}

type statusPayload struct {
	ConfigSession *uint32  `json:"config_session,omitempty"`
	ConfigID      uint32   `json:"config_id,omitempty"`
	ReadSessions  []uint32 `json:"read_sessions,omitempty"`
	GlobalSession *uint32  `json:"global_session,omitempty"`
}

func (c *CLI) fetchStatus() (statusPayload, error) {
	var payload statusPayload

	u := url.URL{Scheme: "http", Host: c.addr, Path: "/v1/status"}
	resp, err := c.client.Get(u.String())
	if err != nil {
		return payload, &RPCError{Op: "status", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return payload, &RPCError{Op: "status", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return payload, &RPCError{Op: "status", Err: err}
	}
	return payload, nil
}

// statusCommand prints a one-line-per-class summary of current lock
// holders, tabular like the teacher's migrations statusCommand.
func (c *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current lock-holder status",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := c.fetchStatus()
			if err != nil {
				return err
			}

			fmt.Printf("%-10s %-10s %s\n", "CLASS", "SESSION", "CONFIG_ID")
			if payload.GlobalSession != nil {
				fmt.Printf("%-10s %-10d %s\n", "global", *payload.GlobalSession, "-")
			}
			if payload.ConfigSession != nil {
				fmt.Printf("%-10s %-10d %d\n", "config", *payload.ConfigSession, payload.ConfigID)
			}
			for _, s := range payload.ReadSessions {
				fmt.Printf("%-10s %-10d %s\n", "read", s, "-")
			}
			if payload.GlobalSession == nil && payload.ConfigSession == nil && len(payload.ReadSessions) == 0 {
				fmt.Println("(no locks held)")
			}
			return nil
		},
	}
}

// showLockCommand is an alias of status focused specifically on the
// Config holder (§6's "show-lock" name), since Config is the lock class
// operators most often need to diagnose ("who is mid-commit right now").
func (c *CLI) showLockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show-lock",
		Short: "Show which session, if any, holds the Config lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := c.fetchStatus()
			if err != nil {
				return err
			}
			if payload.ConfigSession == nil {
				fmt.Println("config lock: free")
				return nil
			}
			fmt.Printf("config lock: held by session %d (config_id %d)\n", *payload.ConfigSession, payload.ConfigID)
			return nil
		},
	}
}

func (c *CLI) abortSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort-session <id>",
		Short: "Force-release whatever lock class a session holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid session id %q: %w", args[0], err)
			}

			u := url.URL{Scheme: "http", Host: c.addr, Path: "/v1/sessions/abort", RawQuery: fmt.Sprintf("session=%d", session)}
			resp, err := c.client.Post(u.String(), "application/octet-stream", nil)
			if err != nil {
				return &RPCError{Op: "abort-session", Err: err}
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
				fmt.Printf("session %d aborted\n", session)
				return nil
			case http.StatusNotFound:
				return &RPCError{Op: "abort-session", Err: fmt.Errorf("session %d holds no lock", session)}
			default:
				return &RPCError{Op: "abort-session", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
			}
		},
	}
}
