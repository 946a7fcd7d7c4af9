// Copyright 2026 The Dropvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dropvisor

// Property names.  Consumers wishing to use a property must know the
// property name and its type; there is no discovery.
type PropertyName string

const (
	PropLayout         PropertyName = "_Layout"         // Layout
	PropStopAttempts   PropertyName = "_StopAttempts"   // int
	PropStopInterval   PropertyName = "_StopInterval"   // time.Duration
	PropListenAddr     PropertyName = "_ListenAddr"     // string, dropbear -p
	PropExtraArgs      PropertyName = "_ExtraArgs"      // []string
	PropKeyType        PropertyName = "_KeyType"        // string, dropbearkey -t
	PropRequireHostKey PropertyName = "_RequireHostKey" // bool
	PropMetrics        PropertyName = "_Metrics"        // *Metrics
	PropProbeTimeout   PropertyName = "_ProbeTimeout"   // time.Duration
)
