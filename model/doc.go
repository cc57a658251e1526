// Package model defines what a model is and how to obtain one, independent of
// caching.
//
// Core pieces:
//   - Model: the inference handle contract (Invoke streams tokens via a callback)
//   - Key: comparable cache identity derived from a loader's effective configuration
//   - Loader: how to obtain a Model; a closed set of variants
//     (ConfigLoader, DirectoryLoader, ConstantLoader, NoneLoader)
//   - the error taxonomy shared by loaders and the store
//   - MockModel for tests and examples
//
// Providers (e.g. OpenAI, Anthropic) implement Model in sub-packages so
// higher layers remain decoupled from vendor SDKs.
package model
