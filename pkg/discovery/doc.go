/*
Package discovery finds local services and places them under management
without operator input.

The scanner asks a CandidateSource for integratable services on an
interval. The built-in source sweeps a configurable set of common
development ports and classifies each responding port by probing
conventional paths: a service publishing /openapi.json becomes an
openapi integration with its document captured inline, a service
answering /health becomes an api-service, and anything else serving a
root page becomes a web-ui. An external service manager can supply its
own source instead. Candidates on ports already covered by a registered
integration are skipped, so repeated scans never duplicate records.
*/
package discovery
