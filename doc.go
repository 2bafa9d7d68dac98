// Package chatflow routes chat commands through a multi-step automated
// pipeline: intent extraction, validation, an external-system action, and a
// final notification.
//
// The heart of the module is the workflow orchestration engine. Each inbound
// request becomes a WorkflowExecution: an ordered list of dependent steps
// executed through pluggable per-type executors, with exponential retry
// backoff, accumulated results and errors, and lifecycle events emitted to
// decoupled observers. Many executions run concurrently and independently.
//
// # Core Concepts
//
//  1. Queue — a durable, multi-consumer FIFO list per named channel, used
//     for inbound work items and outbound events. Consumers on the same
//     channel compete for messages.
//  2. Bus — a pattern-matched broadcast channel for ephemeral progress
//     notifications. Every matching subscriber sees every message.
//  3. Dispatcher — typed event emission to registered handlers, with each
//     event also forwarded onto the Queue under events:<type> for
//     cross-process observers.
//  4. Engine — builds a step list per request category, schedules steps as
//     their dependencies are satisfied, retries failures with exponential
//     backoff, and emits step and workflow lifecycle events.
//  5. Worker — one long-running consumer loop per inbound category channel,
//     decoding requests and handing them to the Engine.
//
// # Wiring
//
// A process typically constructs one Redis-backed Broker, one Dispatcher,
// one Engine and one Worker:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	broker := chatflow.NewRedisBroker(client, logger)
//	dispatcher := chatflow.NewDispatcher(broker, logger)
//	eng := chatflow.NewEngine(chatflow.EngineConfig{
//		Queue:      broker,
//		Bus:        broker,
//		Dispatcher: dispatcher,
//		Processor:  chatflow.NewRuleProcessor(),
//		Actions:    myActionRunner,
//	})
//	w := chatflow.NewWorker(eng, broker, nil, logger)
//	_ = w.Run(ctx)
//
// New step types are added through the engine's Registry without touching
// the execution loop.
package chatflow
