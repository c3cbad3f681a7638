// Package mount describes and applies the ordered list of mounts that
// assemble a container's filesystem tree.
//
// A Plan is a list of Descriptors (a closed set of variants). Compile
// expands it into primitive Mount steps which are applied in order
// relative to the new root and unwound in reverse order.
package mount
