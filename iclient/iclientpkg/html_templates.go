// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclientpkg

// To use: fmt.Sprintf(indexDotHTMLTemplate, xlclientVersion)
//                                           %[1]v
const indexDotHTMLTemplate string = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no">
    <link rel="stylesheet" href="/styles.css">
    <title>iclient</title>
  </head>
  <body>
    <nav class="navbar">
      <a href="/">Home</a>
      <a href="/config">Config</a>
      <a href="/vmps">VMPs</a>
      <a href="/metrics">Metrics</a>
      <span class="version">Version %[1]v</span>
    </nav>
    <div class="container">
      <h1>xlclient iclient</h1>
      <table class="vmps">
        <thead>
          <tr>
            <th>VMP</th>
            <th>Volume</th>
            <th>Lookup Timeout</th>
            <th>Stat Timeout</th>
            <th>Inodes</th>
            <th>Frames Pending</th>
          </tr>
        </thead>
        <tbody id="vmps-body">
        </tbody>
      </table>
    </div>
    <script src="/utils.js"></script>
    <script type="text/javascript">
      renderVMPs("vmps-body");
    </script>
  </body>
</html>
`
