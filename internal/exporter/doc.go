// Package exporter writes simulation output to disk.
//
// Streaming outputs receive every integration step through the
// epidemic.Recorder interface:
//
//   - DatRecorder writes nine whitespace-separated files, one per
//     compartment with U for ICU demand, in the legacy <name>_<X>file.dat
//     layout.
//   - CSVRecorder writes one long-form CSV with a row per compartment and
//     step.
//
// WriteWorkbook (xlsx), WriteCharts (png) and WriteSummaryCSV are written
// once from the finished epidemic.Result. A Sink bundles all of these for a
// run according to the configured formats:
//
//	sink, err := exporter.NewSink("output", "Italy", []string{"dat", "png"}, logger)
//	if err != nil {
//		return err
//	}
//	res, runErr := sim.Run(ctx, sink)
//	files, err := sink.Finish(res)
package exporter
