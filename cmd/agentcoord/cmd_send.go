package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/agentcoord/internal/natsbus"
	"github.com/BaSui01/agentcoord/types"
)

// newSendCmd creates the "agentcoord send" subcommand.
func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		url     string
		msg     types.AgentMessage
		msgType string
		intent  string
		thread  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an agent message to a running server through NATS",
		Long: `Send publishes a message on <prefix>.messages.send of a running
"agentcoord serve". The server applies governance and replies with the decision.

Examples:
  agentcoord send --from ops --to coder --content "deploy is red"
  agentcoord send --from ops --to '*' --type task --content "freeze merges"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if url == "" {
				url = cfg.NATS.URL
			}
			if url == "" {
				return errors.New("send requires --nats or nats.url")
			}
			if msg.Type, err = types.ParseMessageType(msgType); err != nil {
				return err
			}
			metadata := map[string]any{}
			if intent != "" {
				metadata["intent"] = intent
			}
			if thread != "" {
				metadata["thread"] = thread
			}
			if len(metadata) > 0 {
				msg.Metadata = metadata
			}
			if err := msg.Validate(); err != nil {
				return err
			}

			logger := initLogger(cfg.Log)
			defer logger.Sync()
			client, err := natsbus.Connect(url, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			var reply natsbus.IngressReply
			subject := natsbus.NewSubjects(cfg.NATS.SubjectPrefix).Outbox()
			if err := client.RequestJSON(subject, msg, &reply, timeout); err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), reply); err != nil {
				return err
			}
			if reply.Error != "" {
				return fmt.Errorf("server rejected message: %s", reply.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "nats", "", "NATS server URL (defaults to nats.url)")
	cmd.Flags().StringVar(&msg.From, "from", "", "sender agent id")
	cmd.Flags().StringVar(&msg.To, "to", "", "recipient agent id, topic, or * for broadcast")
	cmd.Flags().StringVar(&msg.Content, "content", "", "message content")
	cmd.Flags().StringVar(&msgType, "type", string(types.MessageTypeTask), "message type: question|response|task")
	cmd.Flags().StringVar(&intent, "intent", "", "intent label used by loop detection")
	cmd.Flags().StringVar(&thread, "thread", "", "conversation thread id")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the server reply")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
