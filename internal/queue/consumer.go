package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StartBookingConsumer connects to RabbitMQ, declares the booking lifecycle
// queues (durable), and starts consuming messages. Each message is appended
// to logs/booking.log in a single-line, human-friendly format. The function
// runs a reconnect loop; it keeps running across broker restarts and logs
// any processing errors while rejecting the offending message so the server
// continues operating.
func StartBookingConsumer() error {
	url := BrokerURL()

	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("booking-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeLoop(conn); err != nil {
			log.Printf("booking-consumer: consume loop ended: %v; reconnecting", err)
			// Sleep briefly before reconnect
			time.Sleep(2 * time.Second)
			continue
		}
	}
}

func consumeLoop(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("booking-consumer: set QoS failed: %v", err)
	}

	queues := []string{ConfirmedQueue, CancelledQueue, ExpiredQueue}
	var wg sync.WaitGroup
	for _, name := range queues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		wg.Add(1)
		go func(queue string, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range msgs {
				if err := handleMessage(queue, d.Body); err != nil {
					log.Printf("booking-consumer: handle message failed: %v", err)
					_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
					continue
				}
				_ = d.Ack(false)
			}
		}(name, msgs)
	}

	// All three delivery channels close together when the connection dies.
	wg.Wait()
	return errors.New("deliveries channel closed")
}

// logMu serializes appends to the log file across the queue goroutines.
var logMu sync.Mutex

func handleMessage(queue string, body []byte) error {
	line, err := formatLine(queue, body)
	if err != nil {
		return err
	}
	logMu.Lock()
	defer logMu.Unlock()
	// Ensure logs directory exists
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	fpath := filepath.Join("logs", "booking.log")
	f, err := os.OpenFile(fpath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(queue string, body []byte) (string, error) {
	switch queue {
	case ConfirmedQueue:
		var ev BookingConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking confirmed | booking_id=%d | reference=%s | user_id=%d | event_id=%d | quantity=%d | total=%d %s\n",
			ev.ConfirmedAt, ev.BookingID, ev.BookingReference, ev.UserID, ev.EventID, ev.Quantity, ev.TotalAmountCents, ev.Currency), nil
	case CancelledQueue:
		var ev BookingCancelledEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking cancelled | booking_id=%d | reference=%s | user_id=%d | event_id=%d | quantity=%d | refunded=%t\n",
			ev.CancelledAt, ev.BookingID, ev.BookingReference, ev.UserID, ev.EventID, ev.Quantity, ev.Refunded), nil
	case ExpiredQueue:
		var ev BookingExpiredEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking expired | booking_id=%d | reference=%s | user_id=%d | event_id=%d | quantity=%d\n",
			ev.ExpiredAt, ev.BookingID, ev.BookingReference, ev.UserID, ev.EventID, ev.Quantity), nil
	default:
		return "", fmt.Errorf("unknown queue %q", queue)
	}
}
