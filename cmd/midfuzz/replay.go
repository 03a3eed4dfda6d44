package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/midfuzz/midfuzz/internal/prog"
	"github.com/midfuzz/midfuzz/internal/schema"
)

// replayDispatch mirrors internal/orchestrator's dispatch, unexported there,
// for the standalone replay path which has no supervised target to report
// through.
func replayDispatch(ctx context.Context, callStream string) (exited bool, stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", callStream)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()
	if ctx.Err() != nil {
		return false, stdout, stderr, ctx.Err()
	}
	return true, stdout, stderr, runErr
}

func newReplayCmd() *cobra.Command {
	var inputPath string
	var index int
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Decode and redispatch a saved corpus or crash record against a running target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayMain(cmd.Context(), inputPath, index)
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "f", "", "path to a cbor-encoded corpus or crash input file")
	cmd.Flags().IntVar(&index, "index", 0, "zero-based record index within the file to replay")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func replayMain(ctx context.Context, inputPath string, index int) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	records, err := prog.DecodeAll(data)
	if err != nil {
		return fmt.Errorf("decode records: %w", err)
	}
	if index < 0 || index >= len(records) {
		return fmt.Errorf("record index %d out of range (file has %d)", index, len(records))
	}
	p := records[index]

	rendered := schema.Render(p.ItfInfo)
	fmt.Printf("itf_kind=%s itf_name=%s itf_type=%s\n", p.ItfKind, p.ItfName, p.ItfType)
	fmt.Printf("call_stream: %s\n", p.CallStream)
	fmt.Printf("value tree:  %s\n", rendered)

	dispatchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exited, stdout, stderr, err := replayDispatch(dispatchCtx, p.CallStream)
	fmt.Printf("exited=%v\n--- stdout ---\n%s\n--- stderr ---\n%s\n", exited, stdout, stderr)
	return err
}
