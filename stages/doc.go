// Package stages holds the built-in units a stage table can name with
// stages.<LETTER>.unit.
//
//	stages:
//	  A:
//	    unit: fetch_static_csvs
//
// Register adds them to a pipeline.Catalog. Every unit reads its settings from
// the Invocation and writes only under inv.OutputDir, through inv.Resolve.
package stages
