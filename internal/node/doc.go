// Package node models execution targets and the environment that defines
// them.
//
// A [Node] pairs a [remote.Connection] with its identity: name, login user,
// base working directory, labels and default environment. Every pipeline run
// works below a directory derived from the node's base directory, the
// pipeline name and the task id (see [Node.ResolveCwd]), so concurrent runs
// sharing a node never collide on disk.
//
// An [Environment] is loaded from env.yml:
//
//	workdir: ./workdir          # local working directory
//	nodes:
//	  - name: builder
//	    ip: 10.0.0.10
//	    sshport: 22
//	    user: root
//	    password: secret
//	    workdir: /root/xflow
//	    labels: [build, linux]
//	    envs: {GOFLAGS: -mod=mod}
//	  - name: sandbox
//	    type: container
//	    ip: 10.0.0.11
//	    image: golang:1.25
//	    workdir: /work
//
// Nodes are selected by name or label, either of which may be a glob
// pattern; see [Environment.Select].
package node
