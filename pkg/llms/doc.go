// Package llms provides unified support for interacting with chat models from various providers.
//
// The `llms.go` file contains the Model interface and provider capabilities.
//
// The `generatecontent.go` file contains the provider-neutral Message model:
// system, user, assistant and tool messages, and the content parts they carry.
//
// The `options.go` file provides the call options, including the tools offered to the model.
//
// Each subpackage includes provider-specific implementations of the Model interface.
package llms
