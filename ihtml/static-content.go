// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ihtml

const stylesDotCSSContentType = "text/css"

const stylesDotCSSContent = `body {
  font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
  margin: 0;
  padding-top: 4rem;
}
nav.navbar {
  background-color: #343a40;
  left: 0;
  padding: 0.75rem 1rem;
  position: fixed;
  right: 0;
  top: 0;
}
nav.navbar a {
  color: rgba(255, 255, 255, 0.75);
  margin-right: 1rem;
  text-decoration: none;
}
nav.navbar a:hover {
  color: #ffffff;
}
nav.navbar .version {
  color: rgba(255, 255, 255, 0.5);
  float: right;
}
.container {
  margin: 0 auto;
  max-width: 960px;
  padding: 0 1rem;
}
table.vmps {
  border-collapse: collapse;
  width: 100%;
}
table.vmps th,
table.vmps td {
  border-bottom: 1px solid #dee2e6;
  padding: 0.5rem;
  text-align: left;
}
pre.json {
  background-color: #f8f9fa;
  padding: 1rem;
}
`

const utilsDotJSContentType = "application/javascript"

const utilsDotJSContent = `function fetchJSON(url, onSuccess) {
  var request = new XMLHttpRequest();
  request.onreadystatechange = function() {
    if ((this.readyState == 4) && (this.status == 200)) {
      onSuccess(JSON.parse(this.responseText));
    }
  };
  request.open("GET", url, true);
  request.setRequestHeader("Accept", "application/json");
  request.send();
}

function renderVMPs(tableBodyID) {
  fetchJSON("/vmps", function(vmps) {
    var tableBody = document.getElementById(tableBodyID);
    tableBody.innerHTML = "";
    vmps.forEach(function(vmp) {
      var row = tableBody.insertRow(-1);
      var link = document.createElement("a");
      link.href = "/inodes?vmp=" + encodeURIComponent(vmp.VMP);
      link.textContent = vmp.VMP;
      row.insertCell(-1).appendChild(link);
      row.insertCell(-1).textContent = vmp.VolumeName;
      row.insertCell(-1).textContent = vmp.LookupTimeout;
      row.insertCell(-1).textContent = vmp.StatTimeout;
      row.insertCell(-1).textContent = vmp.NumInodes;
      row.insertCell(-1).textContent = vmp.FramesPending;
    });
  });
}
`
