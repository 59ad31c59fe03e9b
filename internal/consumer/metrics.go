package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulletin",
		Subsystem: "notifier",
		Name:      "messages_total",
		Help:      "Kafka messages seen by the notifier per topic and result (handled, handler_error, malformed, dead_lettered, dropped).",
	}, []string{"topic", "result"})

	lastHandledGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bulletin",
		Subsystem: "notifier",
		Name:      "last_handled_timestamp_seconds",
		Help:      "Kafka timestamp of the newest handled message per topic.",
	}, []string{"topic"})

	chatPostsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulletin",
		Subsystem: "notifier",
		Name:      "chat_posts_total",
		Help:      "Mattermost webhook posts per outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(messagesCounter, lastHandledGauge, chatPostsCounter)
}

func recordProcessed(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, "handled").Inc()
	if !msg.Timestamp.IsZero() {
		lastHandledGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, "handler_error").Inc()
}

func recordDecodeError(topic string) {
	messagesCounter.WithLabelValues(topic, "malformed").Inc()
}

func recordChatPost(outcome string) {
	chatPostsCounter.WithLabelValues(outcome).Inc()
}

func recordExhausted(msg Message, result string) {
	messagesCounter.WithLabelValues(msg.Topic, result).Inc()
}
