// Package dataset reads the inputs of a simulation: the Johns Hopkins CSSE
// time series of confirmed cases and deaths, population pyramids in CSV or
// XLSX form, and the built-in table of country profiles.
//
// Dates are converted to model time in days with the last date of the
// series as origin, so the most recent observation sits at t = 0 and the
// calibration window lies at negative times.
//
// A Loader combines the three sources for one country and caches parsed
// time-series files, which are shared by every country they contain.
package dataset
