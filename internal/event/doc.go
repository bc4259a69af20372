// Package event provides a synchronous pub-sub bus that decouples the
// pipeline engine and remote connections from the console and log sinks
// that report on them.
//
// Event types follow the "category.action" convention:
//   - pipeline.phase, pipeline.finished, pipeline.cleanup
//   - stage.started, stage.finished
//   - node.started, node.finished
//   - connection.opened, connection.closed, connection.removed
//   - command.started, command.output, command.finished
//   - transfer.progress
//
// Subscribers may listen to an exact type, a whole category ("command.*")
// or everything ("*"):
//
//	bus := event.NewBus()
//	bus.Subscribe("command.*", func(e event.Event) {
//	    if out, ok := e.(event.CommandOutputEvent); ok {
//	        fmt.Print(out.Data)
//	    }
//	})
//	bus.Publish(event.NewCommandOutputEvent("n1", "hello\n"))
//
// The Bus is safe for concurrent use. Handlers run synchronously on the
// publisher's goroutine and a panicking handler never stops delivery to the
// others.
package event
