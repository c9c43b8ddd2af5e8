// Package host provides apporch collaborators backed by the local machine:
// directories and symlinks through an afero filesystem, restart commands
// through the shell, and the ambient environment name from a variable.
package host
