// Package router matches events against a module's declarative routes.
package router
