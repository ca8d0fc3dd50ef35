// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package jobs runs asynchronous, deduplicated generation jobs.
//
// Submit validates a request, derives its fingerprint and either answers from
// the result cache, coalesces onto an in-flight job holding the same
// fingerprint, or enqueues a new job. Workers started with Start dequeue jobs,
// retrieve curriculum-bounded grounding through a Retriever, assemble a prompt
// and call the LLM with bounded exponential backoff. Job state lives entirely
// in a storage.JobStore so any process sharing the store can poll it.
package jobs
