// Package masonry composes the column planner, the distribution engine and
// the paged data source into one layout instance.
//
// The layout is an explicit state machine. [State] is an immutable
// snapshot; [Reduce] is the pure transition function for the events a
// layout reacts to:
//
//   - [ResizeEvent]: the container changed size; replan the column count
//   - [FetchStartedEvent], [FetchSucceededEvent], [FetchFailedEvent]: the
//     data source changed; redistribute when the item set changed
//   - [BoundaryEvent]: a top or bottom sentinel moved
//   - [DisposeEvent]: the layout was torn down; later events are ignored
//
// [Engine] drives Reduce from the host. It owns a [feed.Source] and, when
// infinite scroll is enabled, a [scroll.Trigger]; it debounces resize
// reports and serializes every event on one goroutine, so subscribers
// observe states strictly in order.
//
// # Usage
//
//	cfg, err := masonry.LoadConfig("masonry.toml")
//	if err != nil {
//	    return err
//	}
//	eng, err := masonry.NewEngine(cfg, masonry.EngineOptions{
//	    Provider:   provider,
//	    Viewport:   viewportHub,
//	    Visibility: visibilityHub,
//	})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	eng.Subscribe(func(s masonry.State) { render(s.Columns, s.Flags()) })
//	if err := eng.Start(ctx); err != nil {
//	    return err
//	}
//
// For one-shot use without an engine, [Compose] lays out a data source
// snapshot for a single width.
package masonry
