package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/onboard/pkg/api"
	"github.com/cuemby/onboard/pkg/client"
	"github.com/cuemby/onboard/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit a declaration to the agent",
	Long: `Submit a declaration from a JSON or YAML file and wait for the
resulting task to finish.

Examples:
  # Apply a bare Device declaration
  onboard apply -f device.json

  # Apply a wrapped declaration written in YAML, without waiting
  onboard apply -f remote.yaml --wait=false`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Declaration file, JSON or YAML (required)")
	addAgentFlags(applyCmd)
	applyCmd.Flags().Bool("wait", true, "Wait for the task to finish")
	applyCmd.Flags().Duration("poll", 5*time.Second, "Task poll interval while waiting")
	_ = applyCmd.MarkFlagRequired("file")
}

func addAgentFlags(cmd *cobra.Command) {
	cmd.Flags().String("agent", "localhost:8443", "Agent address")
	cmd.Flags().Bool("insecure", true, "Skip agent certificate verification")
}

func agentClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("agent")
	insecure, _ := cmd.Flags().GetBool("insecure")
	return client.NewClient(addr, client.Options{InsecureSkipVerify: insecure})
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	wait, _ := cmd.Flags().GetBool("wait")
	poll, _ := cmd.Flags().GetDuration("poll")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	body, err := declarationJSON(filename, data)
	if err != nil {
		return err
	}

	c := agentClient(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	t, err := c.Submit(ctx, body)
	if err != nil {
		return err
	}
	if wait && !t.Result.Status.Terminal() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Task %s is %s, waiting...\n", t.ID, t.Result.Status)
		if t, err = c.WaitForTask(ctx, t.ID, poll); err != nil {
			return err
		}
	}

	if err := printTask(cmd, t); err != nil {
		return err
	}
	if t.Result.Status == types.StatusError {
		return fmt.Errorf("task %s failed: %s", t.ID, t.Result.Message)
	}
	return nil
}

// declarationJSON returns the file as JSON. YAML files are converted.
func declarationJSON(filename string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
	default:
		if json.Valid(data) {
			return data, nil
		}
	}

	var decl map[string]any
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("failed to parse declaration: %v", err)
	}
	if decl == nil {
		return nil, fmt.Errorf("declaration %s is empty", filename)
	}
	return json.Marshal(decl)
}

func printTask(cmd *cobra.Command, t *api.TaskResponse) error {
	out, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
