/*
Package sensorpipe ingests sensor events, persists them, notifies an
external endpoint when a temperature threshold is crossed, and republishes
an analytics copy onto a message broker.

# Overview

The pipeline is split into small packages wired together by the process
bootstrap in cmd/sensorpipe:

  - errors: the error taxonomy, the bounded retry combinator and the fault
    Handler that decides whether the process keeps running
  - observability: OpenTelemetry metrics and spans, slog helpers
  - notify: the best-effort notification Dispatcher
  - store: the persistence gateway (memory, SQLite, Postgres)
  - broker: the broker Client with ack/nack accounting and its providers
    (memory, MQTT, Redis Streams)
  - ingest: the ingestion Service that orchestrates all of the above
  - subscriber: the queue Consumer feeding the Service from the broker
  - api: the HTTP boundary

# Basic Usage

	st, _ := store.NewSQLiteStore("./events.db")
	defer st.Close()

	client := broker.NewClient(broker.NewMemoryProvider())
	defer client.Close()

	faults := sperrors.NewHandler(sperrors.WithLogger(logger))

	svc := ingest.New(st, notify.NewDispatcher(notify.WithBaseURL(url)), client,
	    ingest.WithFaults(faults),
	)

	stored, err := svc.AddEvent(ctx, sensorpipe.SensorEvent{
	    Category:    "kids-room",
	    Temperature: sensorpipe.Float(35),
	})

# Failure Policy

Notification failures never fail an ingestion. A duplicated business key
(reason) is returned to the caller as a conflict. Persistence and broker
failures are handed to the fault Handler, which terminates the process only
for untrusted errors.
*/
package sensorpipe
