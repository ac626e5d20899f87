// Package wire holds the shared JSON codec used across the repository.
package wire

import jsoniter "github.com/json-iterator/go"

// JSON is the codec every package in this module uses to encode and decode
// gateway payloads and coordination protocol bodies. A single configured
// instance avoids each package paying jsoniter's reflection-cache warmup
// cost independently.
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary
