// Package history downloads previously sent samples from the Machine
// Advisor cloud and prints them.
//
// The download endpoint is a URL template. Placeholders {{clientidnum}},
// {{device}}, {{varname}}, {{tsini}} and {{tsend}} are replaced literally;
// clientidnum is the machine code derived from the device id. The response
// body is CSV in the same three-field layout the overflow file uses.
//
// History is a boundary feature: nothing in the sampling or sending path
// depends on it.
package history
