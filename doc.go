// syncbus is a synchronous invocation bridge over an
// asynchronous in-memory service bus.
//
// (c) 2021, Ruslan Gabitov a.k.a. dr-dobermann.
// Use of this source is governed by LGPL license that
// can be found in the LICENSE file.

/*
Package syncbus unites the parts of the bus:

  - bus.Domain -- in-memory handler-driven service bus

  - transform.Registry -- payload transformers consulted by the bus

  - deploy.Deployer -- puts bean services, proxies and transformers on the bus

Consumers call bus services synchronously either in-process through
a bridge.Proxy or remotely through an endpoint.Endpoint served over gRPC
(api/grpc/epgrpc) or NATS (api/nats/epnats).
*/
package syncbus
