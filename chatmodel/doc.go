// Package chatmodel provides the per-request chat context carried in context.Context.
package chatmodel
