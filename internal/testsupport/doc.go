// Package testsupport holds helpers shared by package tests: temp-dir
// configs, store constructors, job fixtures and the store contract suite
// every queue backend runs.
package testsupport
