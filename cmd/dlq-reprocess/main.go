// Команда dlq-reprocess возвращает события заказов из DLQ в рабочие топики.
// По умолчанию работает в dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

const envKafkaBrokers = "STOREFRONT_KAFKA_BROKERS"

type config struct {
	brokers     []string
	sourceTopic string
	// targetTopic пустой: топик выбирается по типу события.
	targetTopic string
	eventType   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c config) validate() error {
	switch {
	case len(c.brokers) == 0:
		return fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case c.sourceTopic == "":
		return errors.New("source-topic is required")
	case c.targetTopic == c.sourceTopic:
		return errors.New("target-topic must differ from source-topic")
	case c.limit <= 0:
		return errors.New("limit must be > 0")
	case c.idleTimeout <= 0:
		return errors.New("idle-timeout must be > 0")
	}
	return nil
}

// topicFor возвращает топик, в который вернётся событие.
func (c config) topicFor(eventType string) string {
	if c.targetTopic != "" {
		return c.targetTopic
	}
	return kafka.TopicFor(eventType)
}

func readConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	cfg := config{}
	var brokers string

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers, falls back to "+envKafkaBrokers)
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "topic with dead letters")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "publish every event here instead of the topic of its type")
	fs.StringVar(&cfg.eventType, "event-type", "", "replay only this event type")
	fs.IntVar(&cfg.limit, "limit", 100, "max messages to scan across partitions")
	fs.BoolVar(&cfg.execute, "execute", false, "publish events; without it only candidates are logged")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 2*time.Second, "stop reading a partition after this pause")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers, _ = lookup(envKafkaBrokers)
	}
	cfg.brokers = splitBrokers(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.eventType = strings.TrimSpace(cfg.eventType)

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s saramaSource) Close() error {
	return s.consumer.Close()
}

// connections держит подключения к Kafka. producer создаётся только в режиме execute.
type connections struct {
	offsets  offsetReader
	source   partitionSource
	producer sarama.SyncProducer
}

func (c connections) close() {
	if c.producer != nil {
		_ = c.producer.Close()
	}
	if c.source != nil {
		_ = c.source.Close()
	}
	if c.offsets != nil {
		_ = c.offsets.Close()
	}
}

var connect = func(cfg config) (connections, error) {
	clientID := kafka.DefaultClientID + "-dlq-reprocess"
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = clientID
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return connections{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return connections{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	conns := connections{offsets: client, source: saramaSource{consumer: consumer}}
	if !cfg.execute {
		return conns, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.ProducerConfig(clientID))
	if err != nil {
		conns.close()
		return connections{}, fmt.Errorf("create kafka producer: %w", err)
	}
	conns.producer = producer
	return conns, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()

	cfg, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func run(ctx context.Context, cfg config) error {
	conns, err := connect(cfg)
	if err != nil {
		return err
	}
	defer conns.close()

	r := &replayer{
		cfg:     cfg,
		offsets: conns.offsets,
		source:  conns.source,
		logger:  log.WithField("component", "dlq-replay"),
	}
	if conns.producer != nil {
		producer := kafka.NewProducerFrom(conns.producer, r.logger)
		r.publisher = kafka.NewOutboxPublisher(producer, kafka.WithTopic(cfg.targetTopic))
	}

	_, err = r.Run(ctx)
	return err
}

// summary считает обработанные сообщения.
type summary struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *summary) add(other summary) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает DLQ по партициям в пределах limit и публикует исходные события.
type replayer struct {
	cfg       config
	offsets   offsetReader
	source    partitionSource
	publisher domain.OutboxPublisher
	logger    *log.Entry
}

// Run обходит партиции по возрастанию номера, пока не исчерпан limit.
func (r *replayer) Run(ctx context.Context) (summary, error) {
	var total summary
	if r.offsets == nil || r.source == nil {
		return total, errors.New("kafka offsets and consumer are required")
	}
	if r.cfg.execute && r.publisher == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		got, err := r.replayPartition(ctx, partition, budget)
		total.add(got)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"source_topic": r.cfg.sourceTopic,
		"execute":      r.cfg.execute,
		"scanned":      total.scanned,
		"replayed":     total.replayed,
		"skipped":      total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// window возвращает [start, end) офсетов партиции, которые нужно прочитать.
func (r *replayer) window(partition int32, budget int) (int64, int64, error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	start := oldest
	if r.cfg.fromNewest {
		start = max(oldest, newest-int64(budget))
	}
	return start, newest, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) (summary, error) {
	var got summary
	start, end, err := r.window(partition, budget)
	if err != nil || start >= end {
		return got, err
	}

	reader, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return got, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	errs := reader.Errors()
	for got.scanned < budget {
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-idle.C:
			return got, nil
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if cerr != nil {
				return got, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return got, nil
			}
			idle.Reset(r.cfg.idleTimeout)
			got.scanned++

			replayed, err := r.handle(msg)
			if err != nil {
				return got, err
			}
			if replayed {
				got.replayed++
			} else {
				got.skipped++
			}
			if msg.Offset+1 >= end {
				return got, nil
			}
		}
	}
	return got, nil
}

// handle публикует одно сообщение DLQ. Ошибку возвращает только сбой публикации.
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	letter, ok, err := extractDeadLetter(msg)
	if err != nil {
		entry.WithError(err).Warn("skip malformed dead letter")
		return false, nil
	}
	if !ok || (r.cfg.eventType != "" && letter.EventType != r.cfg.eventType) {
		return false, nil
	}

	if !r.cfg.execute {
		entry.WithFields(log.Fields{
			"event_type":    letter.EventType,
			"outbox_id":     letter.OutboxID,
			"attempts":      letter.Attempts,
			"publish_error": letter.PublishError,
			"target_topic":  r.cfg.topicFor(letter.EventType),
		}).Info("dlq replay candidate")
		return true, nil
	}
	if err := r.publisher.Publish(letter.Message()); err != nil {
		return false, fmt.Errorf("publish %s of %s: %w", letter.EventType, letter.AggregateID, err)
	}
	return true, nil
}

// extractDeadLetter разбирает сообщение DLQ. ok=false означает чужой формат, который пропускается.
func extractDeadLetter(msg *sarama.ConsumerMessage) (outbox.DeadLetter, bool, error) {
	env, err := kafka.DecodeEnvelope(msg.Value)
	if err != nil || len(env.Payload) == 0 {
		return outbox.DeadLetter{}, false, nil
	}

	var letter outbox.DeadLetter
	if err := json.Unmarshal(env.Payload, &letter); err != nil {
		return outbox.DeadLetter{}, false, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 {
		return outbox.DeadLetter{}, false, errors.New("dead letter does not contain original event payload")
	}

	fill(&letter.OutboxID, env.ID)
	fill(&letter.AggregateType, env.AggregateType)
	fill(&letter.AggregateID, env.AggregateID)
	fill(&letter.EventType, env.EventType)
	return letter, true, nil
}

// fill подставляет значение из конверта, если в письме поле пустое.
func fill(dst *string, fallback string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = fallback
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
