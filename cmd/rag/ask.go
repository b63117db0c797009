package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bull/rag-builder/internal/agent"
	"github.com/bull/rag-builder/internal/queue"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		threadID    string
		redisMemory bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the knowledge base a question",
		Long: `Streams an answer from the agent. Answer tokens go to stdout, retrieved
context previews to stderr. Without a question, reads questions line by line
from stdin within one conversation thread.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ask(cmd, strings.Join(args, " "), threadID, redisMemory)
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "conversation thread id (default: new)")
	cmd.Flags().BoolVar(&redisMemory, "redis-memory", false, "keep conversation memory in Redis at queue.redis_addr")
	return cmd
}

func (a *app) ask(cmd *cobra.Command, question, threadID string, redisMemory bool) error {
	ctx := cmd.Context()
	cfg, logger := a.cfg, a.logger

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var memory agent.Memory = agent.NewInMemory()
	if redisMemory {
		rdb, err := queue.NewRedisClient(ctx, cfg.Queue.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		memory = agent.NewRedisMemory(rdb, agent.RedisMemoryOptions{})
	}

	r, err := newRetriever(cfg, store, logger)
	if err != nil {
		return err
	}
	ag, err := newAgent(cfg, r, memory, logger)
	if err != nil {
		return err
	}
	if threadID == "" {
		threadID = uuid.NewString()
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if question != "" {
		return answer(ctx, ag, threadID, question, out, errOut)
	}

	fmt.Fprintf(errOut, "Thread %s. Ask a question (Ctrl-D to quit).\n", threadID)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(errOut, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(errOut)
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			continue
		}
		if err := answer(ctx, ag, threadID, q, out, errOut); err != nil {
			return err
		}
	}
}

// answer streams one turn: tool previews to errOut, model tokens to out.
func answer(ctx context.Context, ag *agent.Agent, threadID, question string, out, errOut io.Writer) error {
	events, err := ag.Respond(ctx, threadID, question)
	if err != nil {
		return err
	}
	var turnErr error
	for ev := range events {
		switch {
		case ev.Done:
			turnErr = ev.Err
		case ev.Node == agent.NodeTool:
			fmt.Fprintf(errOut, "[%s]\n%s\n", ev.Tool, ev.Text)
		case ev.Node == agent.NodeModel:
			fmt.Fprint(out, ev.Text)
		}
	}
	fmt.Fprintln(out)
	return turnErr
}
