// Package rabbitmq publishes offer lifecycle events to RabbitMQ with
// publisher confirms, implementing events.Publisher.
package rabbitmq
