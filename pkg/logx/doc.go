// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the codebase depends on a small, stable API
// (Logger + Field helpers) while sink wiring (console, JSON file) stays
// swappable at runtime via Service.Apply.
package logx
