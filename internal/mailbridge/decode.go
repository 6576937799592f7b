package mailbridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"simwatch/internal/mq"
	"simwatch/internal/store"
)

// Body keys populated from email attachments.
const (
	configurationKey = "configuration"
	environmentKey   = "data"
	metricsKey       = "metrics"
)

// emailContext is the per-email working state of the decode pipeline.
type emailContext struct {
	mq.State

	env *mq.Envelope

	uid      uint32
	emailUID string

	email       *Email
	body        []byte
	attachments [][]byte

	outgoing []*mq.Envelope
	stats    *store.EmailStats

	rejectReason string
}

// Decoder consumes mailbox announcements: it fetches the referenced
// email, unpacks the newline-delimited base64 messages in its body and
// republishes each one under its own type code. An email that cannot
// be processed is moved to the rejected folder with its statistics
// recorded.
type Decoder struct {
	box             Mailbox
	store           EmailGateway
	pub             mq.Publisher
	serverID        string
	processedFolder string
	rejectedFolder  string
	deleteProcessed bool
	excluded        map[mq.Code]struct{}
	log             *slog.Logger
	now             func() time.Time
}

// DecoderConfig holds the decode policy.
type DecoderConfig struct {
	ServerID        string
	ProcessedFolder string
	RejectedFolder  string
	DeleteProcessed bool
	ExcludedCodes   []string
}

// NewDecoder wires the decode pipeline.
func NewDecoder(box Mailbox, g EmailGateway, pub mq.Publisher, cfg DecoderConfig, log *slog.Logger) *Decoder {
	excluded := make(map[mq.Code]struct{}, len(cfg.ExcludedCodes))
	for _, c := range cfg.ExcludedCodes {
		excluded[mq.Code(c)] = struct{}{}
	}
	return &Decoder{
		box:             box,
		store:           g,
		pub:             pub,
		serverID:        cfg.ServerID,
		processedFolder: cfg.ProcessedFolder,
		rejectedFolder:  cfg.RejectedFolder,
		deleteProcessed: cfg.DeleteProcessed,
		excluded:        excluded,
		log:             log,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements mq.Handler.
func (d *Decoder) Handle(ctx context.Context, env *mq.Envelope) error {
	pc := &emailContext{env: env}

	pipeline := mq.Pipeline[*emailContext]{
		Name: "mailbridge-decode",
		Tasks: []mq.Task[*emailContext]{
			d.unpackTrigger,
			d.fetchEmail,
			d.parseParts,
			d.decodeMessages,
			d.attachPayloads,
			d.publishMessages,
			d.persistStats,
			d.disposeEmail,
		},
		ErrorTasks: []mq.Task[*emailContext]{
			d.rejectEmail,
		},
		Log: d.log,
	}
	return pipeline.Execute(ctx, pc)
}

func (d *Decoder) unpackTrigger(ctx context.Context, pc *emailContext) error {
	pc.emailUID = pc.env.String("email_uid")
	if pc.emailUID == "" {
		return fmt.Errorf("mailbox announcement %s carries no email_uid", pc.env.Props.MessageID)
	}
	if serverID := pc.env.String("email_server_id"); serverID != "" && serverID != d.serverID {
		d.log.Warn("announcement for another mailbox, skipping",
			"email_uid", pc.emailUID, "server_id", serverID)
		pc.Abort()
		return nil
	}
	uid, err := strconv.ParseUint(pc.emailUID, 10, 32)
	if err != nil {
		return fmt.Errorf("unparsable email uid %q: %w", pc.emailUID, err)
	}
	pc.uid = uint32(uid)

	pc.stats = &store.EmailStats{
		EmailServerID: d.serverID,
		EmailUID:      pc.emailUID,
	}
	return nil
}

func (d *Decoder) fetchEmail(ctx context.Context, pc *emailContext) error {
	email, err := d.box.Fetch(ctx, pc.uid)
	if err != nil {
		return fmt.Errorf("fetch announced email: %w", err)
	}
	pc.email = email
	if !email.ArrivalDate.IsZero() {
		arrival := email.ArrivalDate.UTC()
		pc.stats.ArrivalDate = &arrival
	}
	return nil
}

// parseParts splits the raw email into the text body carrying the
// encoded messages and the attachments some type codes require.
func (d *Decoder) parseParts(ctx context.Context, pc *emailContext) error {
	reader, err := gomail.CreateReader(bytes.NewReader(pc.email.Raw))
	if err != nil {
		pc.rejectReason = "unparsable email"
		return fmt.Errorf("parse email %s: %w", pc.emailUID, err)
	}
	defer reader.Close()

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			pc.rejectReason = "unparsable email part"
			return fmt.Errorf("parse email %s: %w", pc.emailUID, err)
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			pc.rejectReason = "unreadable email part"
			return fmt.Errorf("read email %s part: %w", pc.emailUID, err)
		}
		switch part.Header.(type) {
		case *gomail.InlineHeader:
			if len(pc.body) == 0 {
				pc.body = content
			}
		case *gomail.AttachmentHeader:
			pc.attachments = append(pc.attachments, content)
		}
	}
	return nil
}

// decodeMessages turns each newline-delimited base64 token in the body
// into an outbound envelope, dropping and counting the tokens that
// fail a decode stage or the filter policy.
func (d *Decoder) decodeMessages(ctx context.Context, pc *emailContext) error {
	for _, token := range strings.Split(string(pc.body), "\n") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		pc.stats.Incoming++

		raw, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			pc.stats.ErrorsDecodingB64++
			continue
		}

		content, err := decodeJSON(raw)
		if err != nil {
			pc.stats.ErrorsDecodingJSON++
			continue
		}

		code := mq.Code(stringField(content, "msgCode"))
		if _, skip := d.excluded[code]; skip {
			pc.stats.Excluded++
			continue
		}
		if stringField(content, "msgProducerVersion") == "" {
			pc.stats.Excluded++
			continue
		}

		env := d.buildEnvelope(content, pc.emailUID)
		if err := env.Validate(); err != nil {
			if errors.Is(err, mq.ErrIncorrelateable) {
				pc.stats.Incorrelateable++
				continue
			}
			pc.stats.ErrorsEncodingAMQP++
			continue
		}

		pc.outgoing = append(pc.outgoing, env)
	}
	return nil
}

// decodeJSON parses a decoded token. Some producers double-escape the
// payload; stripping backslashes and reparsing recovers those.
func decodeJSON(raw []byte) (map[string]any, error) {
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err == nil {
		return content, nil
	}
	stripped := bytes.ReplaceAll(raw, []byte(`\`), nil)
	if err := json.Unmarshal(stripped, &content); err != nil {
		return nil, err
	}
	return content, nil
}

// buildEnvelope maps the reserved body fields onto envelope properties.
// The reserved fields stay in the content; publishing strips them.
func (d *Decoder) buildEnvelope(content map[string]any, emailUID string) *mq.Envelope {
	rawTimestamp := stringField(content, "msgTimestamp")
	timestamp, err := mq.ParseTimestamp(rawTimestamp)
	if err != nil {
		timestamp = d.now()
	}

	jobUID := stringField(content, "jobuid")
	if jobUID == "N/A" {
		jobUID = ""
	}

	return &mq.Envelope{
		Props: mq.Props{
			UserID:          mq.PlatformUserID,
			ProducerID:      stringField(content, "msgProducer"),
			ProducerVersion: stringField(content, "msgProducerVersion"),
			MessageID:       stringField(content, "msgUID"),
			Type:            mq.Code(stringField(content, "msgCode")),
			Timestamp:       timestamp,
			Headers: mq.Headers{
				TimestampISO:   timestamp.Format(time.RFC3339Nano),
				TimestampRaw:   rawTimestamp,
				CorrelationID1: stringField(content, "simuid"),
				CorrelationID2: jobUID,
				EmailUID:       emailUID,
			},
		},
		Content: content,
	}
}

// attachPayloads binds email attachments to the type codes that carry
// their payload out of band. The handlers apply only when the email
// decoded to a single message; a batch email carries no attachments.
// A required attachment that is missing rejects the whole email.
// Metrics fan out one message per attachment.
func (d *Decoder) attachPayloads(ctx context.Context, pc *emailContext) error {
	if len(pc.outgoing) != 1 {
		return nil
	}
	env := pc.outgoing[0]

	switch env.Props.Type {
	case mq.CodeSimulationStart:
		if len(pc.attachments) == 0 {
			pc.rejectReason = fmt.Sprintf("message %s requires a configuration attachment", env.Props.MessageID)
			return errors.New(pc.rejectReason)
		}
		env.Content[configurationKey] = string(pc.attachments[0])

	case mq.CodeEnvironmentData:
		if len(pc.attachments) == 0 {
			pc.rejectReason = fmt.Sprintf("message %s requires an environment attachment", env.Props.MessageID)
			return errors.New(pc.rejectReason)
		}
		env.Content[environmentKey] = base64.StdEncoding.EncodeToString(pc.attachments[0])

	case mq.CodeMetrics:
		if len(pc.attachments) == 0 {
			pc.rejectReason = fmt.Sprintf("message %s requires a metrics attachment", env.Props.MessageID)
			return errors.New(pc.rejectReason)
		}
		out := make([]*mq.Envelope, 0, len(pc.attachments))
		for i, attachment := range pc.attachments {
			copied := *env
			copied.Content = make(map[string]any, len(env.Content)+1)
			for k, v := range env.Content {
				copied.Content[k] = v
			}
			copied.Content[metricsKey] = base64.StdEncoding.EncodeToString(attachment)
			if i > 0 {
				copied.Props.MessageID = uuid.NewString()
			}
			out = append(out, &copied)
		}
		pc.outgoing = out
	}
	return nil
}

func (d *Decoder) publishMessages(ctx context.Context, pc *emailContext) error {
	for _, env := range pc.outgoing {
		if err := d.pub.Publish(ctx, env); err != nil {
			pc.stats.ErrorsEncodingAMQP++
			d.log.Error("failed to republish decoded message",
				"email_uid", pc.emailUID, "message_id", env.Props.MessageID, "error", err)
			continue
		}
		pc.stats.Outgoing++
		if pc.stats.OutgoingByType == nil {
			pc.stats.OutgoingByType = make(map[mq.Code]int)
		}
		pc.stats.OutgoingByType[env.Props.Type]++
	}
	return nil
}

func (d *Decoder) persistStats(ctx context.Context, pc *emailContext) error {
	dispatch := d.now()
	pc.stats.DispatchDate = &dispatch
	return d.store.PersistEmailStats(ctx, nil, pc.stats)
}

func (d *Decoder) disposeEmail(ctx context.Context, pc *emailContext) error {
	if d.deleteProcessed {
		return d.box.Delete(ctx, pc.uid)
	}
	return d.box.Move(ctx, pc.uid, d.processedFolder)
}

// rejectEmail runs when the pipeline faults: the statistics are
// recorded with the rejection flag and the email is parked in the
// rejected folder for manual inspection.
func (d *Decoder) rejectEmail(ctx context.Context, pc *emailContext) error {
	d.log.Error("rejecting email", "email_uid", pc.emailUID, "reason", pc.rejectReason)

	if pc.stats != nil {
		pc.stats.Rejected = true
		dispatch := d.now()
		pc.stats.DispatchDate = &dispatch
		if err := d.store.PersistEmailStats(ctx, nil, pc.stats); err != nil {
			d.log.Error("failed to persist stats for rejected email",
				"email_uid", pc.emailUID, "error", err)
		}
	}
	if pc.uid != 0 {
		if err := d.box.Move(ctx, pc.uid, d.rejectedFolder); err != nil {
			d.log.Error("failed to park rejected email",
				"email_uid", pc.emailUID, "error", err)
		}
	}
	return nil
}

func stringField(content map[string]any, key string) string {
	s, _ := content[key].(string)
	return s
}
