// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

// Error codes attached to runtime errors with oops.Code.
const (
	CodeManifestNotFound       = "MANIFEST_NOT_FOUND"
	CodeInvalidManifest        = "INVALID_MANIFEST"
	CodeModuleLoadError        = "MODULE_LOAD_ERROR"
	CodeInvalidPluginModule    = "INVALID_PLUGIN_MODULE"
	CodeInsufficientPermission = "INSUFFICIENT_PERMISSION"
	CodeAlreadyLoaded          = "ALREADY_LOADED"
	CodeNotLoaded              = "NOT_LOADED"
	CodeHookTimeout            = "HOOK_TIMEOUT"
	CodeHookFailed             = "HOOK_FAILED"
	CodeInvalidPath            = "INVALID_PATH"
	CodeInvalidConfig          = "INVALID_CONFIG"
	CodeDependencyMissing      = "DEPENDENCY_MISSING"
	CodeAlreadyInstalled       = "ALREADY_INSTALLED"
	CodeNotInstalled           = "NOT_INSTALLED"
)
