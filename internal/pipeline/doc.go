// Package pipeline runs ordered stages against the nodes of an environment.
//
// A [Definition] names the pipeline, its default node [Selector], an
// [Options] value and its [Stage] list. Definitions are registered with
// [Register] from init functions and looked up by the CLI.
//
// # Lifecycle
//
// [Pipeline.Run] moves through created → setup → running → success|failure →
// teardown → done:
//
//   - setup allocates the next task id for the pipeline name under an
//     exclusive file lock, creates <workdir>/<name>/<id> locally and
//     <node workdir>/<name>/<id> on every node, then calls Definition.Setup.
//   - running executes stages in order. Within a stage each selected node
//     gets its own [Context] on its own goroutine; the stage ends when every
//     node has returned. A failing node does not stop its siblings, but it
//     fails the stage and the remaining stages are skipped.
//   - teardown always runs Definition.Teardown. After a successful run,
//     ephemeral containers are removed and every other node has its pipeline
//     directory deleted. A failed run leaves everything in place.
//
// # Usage
//
//	pipeline.Register(&pipeline.Definition{
//	    Name:  "deploy",
//	    Nodes: pipeline.Selector{Labels: []string{"web"}},
//	    Stages: []pipeline.Stage{
//	        {Name: "fetch", Run: func(c *pipeline.Context) error {
//	            _, err := c.Exec("git clone https://example.com/app.git")
//	            return err
//	        }},
//	    },
//	})
//
//	p, _ := pipeline.New(def, env, pipeline.WithBus(bus))
//	if p.Run(ctx) == pipeline.ResultFailed {
//	    os.Exit(1)
//	}
package pipeline
