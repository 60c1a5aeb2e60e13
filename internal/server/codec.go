package server

import jsoniter "github.com/json-iterator/go"

// json is the wire codec for both transports.
var json = jsoniter.ConfigCompatibleWithStandardLibrary
