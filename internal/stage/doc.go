// Package stage wires the concrete download, encode and upload
// implementations chosen in config into workflow collaborators.
package stage
